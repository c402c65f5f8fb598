package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/parserport/internal"
)

// ErrRunNotFound is returned by GetRun for an unknown ID.
var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Concurrent loops write outcomes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversion_runs (
		id TEXT PRIMARY KEY,
		backend TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		cached INTEGER NOT NULL DEFAULT 0,
		archive_path TEXT NOT NULL DEFAULT '',
		download_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversion_outcomes (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		js_filename TEXT NOT NULL,
		class_name TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		cached BOOLEAN NOT NULL DEFAULT FALSE,
		output_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES conversion_runs(id)
	);

	-- conversion_memory keeps validated code for records whose inputs are unchanged
	CREATE TABLE IF NOT EXISTS conversion_memory (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		js_filename TEXT NOT NULL,
		class_name TEXT NOT NULL,
		code TEXT NOT NULL,
		usage_count INTEGER DEFAULT 0,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON conversion_outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON conversion_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Run is a row from conversion_runs.
type Run struct {
	ID          string     `json:"id"`
	Backend     string     `json:"backend"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Cached      int        `json:"cached"`
	ArchivePath string     `json:"archive_path"`
	DownloadURL string     `json:"download_url"`
	Error       string     `json:"error"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

// RunTotals are the final counters of a run.
type RunTotals struct {
	Total       int
	Succeeded   int
	Skipped     int
	Failed      int
	Cached      int
	ArchivePath string
	DownloadURL string
	Error       string
}

// OutcomeRow is a row from conversion_outcomes.
type OutcomeRow struct {
	RunID          string    `json:"run_id"`
	Index          int       `json:"index"`
	SourceFilename string    `json:"source_filename"`
	ClassName      string    `json:"class_name"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	Attempts       int       `json:"attempts"`
	Cached         bool      `json:"cached"`
	OutputPath     string    `json:"output_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateRun inserts a new run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, backend string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversion_runs (id, backend, started_at) VALUES (?, ?, ?)`,
		id, backend, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// SaveOutcome stores the outcome of one record. Saving the same index twice
// replaces the earlier row.
func (s *Store) SaveOutcome(ctx context.Context, o OutcomeRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversion_outcomes (run_id, idx, js_filename, class_name, status, reason, attempts, cached, output_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Index, o.SourceFilename, o.ClassName, o.Status, o.Reason, o.Attempts, o.Cached, o.OutputPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// FinishRun records the final counters and marks the run finished.
func (s *Store) FinishRun(ctx context.Context, id string, t RunTotals) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversion_runs SET total = ?, succeeded = ?, skipped = ?, failed = ?, cached = ?, archive_path = ?, download_url = ?, error = ?, finished_at = ? WHERE id = ?`,
		t.Total, t.Succeeded, t.Skipped, t.Failed, t.Cached, t.ArchivePath, t.DownloadURL, t.Error, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, backend, total, succeeded, skipped, failed, cached, archive_path, download_url, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var finished sql.NullTime
	err := sc.Scan(&r.ID, &r.Backend, &r.Total, &r.Succeeded, &r.Skipped, &r.Failed, &r.Cached,
		&r.ArchivePath, &r.DownloadURL, &r.Error, &r.StartedAt, &finished)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM conversion_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run by ID, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM conversion_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunOutcomes returns the outcomes of a run in input order.
func (s *Store) RunOutcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, idx, js_filename, class_name, status, reason, attempts, cached, output_path, created_at FROM conversion_outcomes WHERE run_id = ? ORDER BY idx`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var o OutcomeRow
		if err := rows.Scan(&o.RunID, &o.Index, &o.SourceFilename, &o.ClassName, &o.Status, &o.Reason, &o.Attempts, &o.Cached, &o.OutputPath, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MemoryKey identifies a record's inputs: the normalized source text plus
// everything else the prompt is built from.
func MemoryKey(rec internal.ParserRecord, src string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(normalizeText(src))
	write(rec.ClassName)
	write(strings.Join(rec.BaseURLs, "\n"))
	for _, role := range internal.Roles {
		write(rec.Selectors.Get(role))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns remembered code for rec, skipping invalidated entries.
func (s *Store) Lookup(ctx context.Context, rec internal.ParserRecord, src string) (string, bool, error) {
	key := MemoryKey(rec, src)

	var code string
	var invalidated bool
	err := s.db.QueryRowContext(ctx,
		`SELECT code, invalidated FROM conversion_memory WHERE key = ?`, key).Scan(&code, &invalidated)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if invalidated {
		return "", false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversion_memory SET usage_count = usage_count + 1, last_used = ? WHERE key = ?`,
		time.Now().UTC(), key)
	return code, true, err
}

// Remember stores validated code for rec, replacing any previous entry.
func (s *Store) Remember(ctx context.Context, rec internal.ParserRecord, src, code string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversion_memory (id, key, js_filename, class_name, code, usage_count, invalidated, last_used, created_at) VALUES (?, ?, ?, ?, ?, 0, FALSE, ?, ?)`,
		uuid.NewString(), MemoryKey(rec, src), rec.SourceFilename, rec.ClassName, code, now, now)
	return err
}

// MemoryEntry is a row from the conversion_memory table.
type MemoryEntry struct {
	ID             string
	SourceFilename string
	ClassName      string
	Code           string
	UsageCount     int
	Invalidated    bool
	LastUsed       time.Time
}

// Stats summarises conversion history and memory usage.
type Stats struct {
	Runs           int
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
}

func (s *Store) InvalidateMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversion_memory SET invalidated = TRUE WHERE id = ?`, id)
	return err
}

// DeleteMemory permanently removes a memory entry by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversion_memory WHERE id = ?`, id)
	return err
}

// ClearMemory removes all memory entries.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversion_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMemory returns all memory entries ordered by most recently used.
func (s *Store) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, js_filename, class_name, code, usage_count, invalidated, last_used FROM conversion_memory ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.SourceFilename, &e.ClassName, &e.Code, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversion_runs`).Scan(&stats.Runs); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM conversion_memory`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent memory key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
