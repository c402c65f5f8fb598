// Package pipeline runs a full batch conversion: extract records, convert
// each one, write the results, archive them and upload the archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/valpere/parserport/internal"
	"github.com/valpere/parserport/internal/artifact"
	"github.com/valpere/parserport/internal/extractor"
	"github.com/valpere/parserport/internal/metrics"
	"github.com/valpere/parserport/internal/orchestrator"
	"github.com/valpere/parserport/internal/source"
	"github.com/valpere/parserport/internal/store"
	"github.com/valpere/parserport/internal/upload"
)

// Reporter receives human-readable progress lines.
type Reporter func(line string)

type Pipeline struct {
	// Extractor is optional; when nil the records file must already exist.
	Extractor   *extractor.Runner
	RecordsPath string
	Loop        *orchestrator.Loop
	Sources     source.Provider
	Memory      orchestrator.Memory
	Concurrency int
	Sink        *artifact.Sink
	ArchivePath string
	// Store and Uploader are optional.
	Store    *store.Store
	Uploader upload.Uploader
	Backend  string
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Total       int
	Succeeded   int
	Skipped     int
	Failed      int
	Cached      int
	Files       []string
	ArchivePath string
	DownloadURL string
	UploadError string
	Results     []orchestrator.Result
}

// Run executes the batch. Per-record failures never stop it; the returned
// error is reserved for problems that leave nothing to convert or archive.
func (p *Pipeline) Run(ctx context.Context, report Reporter) (*Summary, error) {
	if report == nil {
		report = func(string) {}
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	records, err := p.loadRecords(ctx, report)
	if err != nil {
		return nil, err
	}

	if err := p.Sink.Reset(); err != nil {
		report(fmt.Sprintf("ERROR: %v", err))
		return nil, err
	}

	sum := &Summary{Total: len(records), ArchivePath: p.ArchivePath}
	if p.Store != nil {
		id, err := p.Store.CreateRun(ctx, p.Backend)
		if err != nil {
			log.Warn("failed to record run", zap.Error(err))
		} else {
			sum.RunID = id
		}
	}

	driver := orchestrator.NewDriver(p.Loop, p.Sources, orchestrator.DriverConfig{
		Concurrency: p.Concurrency,
		Memory:      p.Memory,
		Logger:      log,
		Metrics:     p.Metrics,
		Hooks: orchestrator.Hooks{
			OnStart: func(index, total int, rec internal.ParserRecord) {
				report(fmt.Sprintf("(%d/%d) Converting %s -> %s...", index+1, total, rec.SourceFilename, rec.ClassName))
			},
			OnAttempt: func(index int, rec internal.ParserRecord, att orchestrator.Attempt) {
				reportAttempt(report, att)
			},
			OnResult: func(total int, res orchestrator.Result) {
				p.handleResult(ctx, log, report, sum, res)
			},
		},
	})
	sum.Results = driver.Run(ctx, records)

	report("All parsers converted. Now creating ZIP file...")
	if _, err := artifact.Archive(p.Sink.Root(), p.ArchivePath, artifact.DefaultArchivePrefix); err != nil {
		report(fmt.Sprintf("ERROR: Could not create the ZIP file. %v", err))
		p.finish(ctx, log, sum, err.Error())
		return sum, err
	}
	report(fmt.Sprintf("ZIP file '%s' created.", p.ArchivePath))

	if p.Uploader != nil {
		report("Uploading to file sharing service...")
		link, err := p.Uploader.Upload(ctx, p.ArchivePath)
		if err != nil {
			sum.UploadError = err.Error()
			report(fmt.Sprintf("ERROR: Could not upload the file. %v", err))
		} else {
			sum.DownloadURL = link
			report(fmt.Sprintf("DONE! Download your parsers here: %s", link))
		}
	}

	p.finish(ctx, log, sum, sum.UploadError)
	return sum, nil
}

// loadRecords runs the extractor when configured. A failed extraction falls
// back to whatever records file a previous run left behind.
func (p *Pipeline) loadRecords(ctx context.Context, report Reporter) ([]internal.ParserRecord, error) {
	path := p.RecordsPath
	var extractErr error
	if p.Extractor != nil {
		path = p.Extractor.OutputPath()
		report("Starting parser data extraction...")
		records, err := p.extract(ctx, report)
		if err == nil {
			report(fmt.Sprintf("Success! Extracted data to %s", path))
			report(fmt.Sprintf("Found data for %d parsers.", len(records)))
			return records, nil
		}
		extractErr = err
	}

	records, err := internal.LoadRecordsFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			report(fmt.Sprintf("ERROR: %s not found. Run extraction first.", path))
		} else {
			report(fmt.Sprintf("ERROR: %v", err))
		}
		if extractErr != nil {
			return nil, fmt.Errorf("extraction failed: %w; %w", extractErr, err)
		}
		return nil, err
	}
	report(fmt.Sprintf("Found data for %d parsers.", len(records)))
	return records, nil
}

func (p *Pipeline) extract(ctx context.Context, report Reporter) ([]internal.ParserRecord, error) {
	if err := p.Extractor.EnsureDeps(ctx); err != nil {
		report(fmt.Sprintf("ERROR: Failed to install extractor dependencies. %v", err))
		return nil, err
	}
	report("Running the extractor script...")
	records, err := p.Extractor.Extract(ctx)
	if err != nil {
		report(fmt.Sprintf("ERROR: Failed to run the extractor. %v", err))
		return nil, err
	}
	return records, nil
}

func reportAttempt(report Reporter, att orchestrator.Attempt) {
	if att.Number > 1 {
		report(fmt.Sprintf("   - Self-correction attempt %d...", att.Number-1))
	}
	switch {
	case att.Valid:
		report("   - Code is syntactically valid.")
	case att.RawResponse == "":
		if att.Err != nil {
			report(fmt.Sprintf("   - ERROR: No usable response from the model: %v", att.Err))
		} else {
			report("   - ERROR: No usable response from the model.")
		}
	default:
		report(fmt.Sprintf("   - ERROR: Invalid Python syntax generated: %s", att.Diagnostic))
	}
}

// handleResult runs under the driver's hook lock, so sum needs no mutex.
func (p *Pipeline) handleResult(ctx context.Context, log *zap.Logger, report Reporter, sum *Summary, res orchestrator.Result) {
	out := res.Outcome
	rec := res.Record
	row := store.OutcomeRow{
		RunID:          sum.RunID,
		Index:          res.Index,
		SourceFilename: rec.SourceFilename,
		ClassName:      rec.ClassName,
		Status:         string(out.Status),
		Reason:         out.Reason,
		Attempts:       out.Attempts,
		Cached:         out.Cached,
	}

	switch out.Status {
	case orchestrator.StatusSuccess:
		rel, err := p.Sink.Write(rec, out.Code)
		if err != nil {
			sum.Failed++
			row.Status = string(orchestrator.StatusFailed)
			row.Reason = err.Error()
			report(fmt.Sprintf("   - ERROR: %v", err))
			break
		}
		sum.Succeeded++
		sum.Files = append(sum.Files, rel)
		row.OutputPath = rel
		if out.Cached {
			sum.Cached++
			report(fmt.Sprintf("   - Reused validated code from conversion memory: %s", rel))
		} else {
			report(fmt.Sprintf("   - Saved %s", rel))
		}
	case orchestrator.StatusSkipped:
		sum.Skipped++
		if out.Reason == "source not found" {
			report("   - WARNING: JS file not found, skipping.")
		} else {
			report(fmt.Sprintf("   - WARNING: Skipping %s: %s", rec.SourceFilename, out.Reason))
		}
	case orchestrator.StatusFailed:
		sum.Failed++
		report(fmt.Sprintf("   - FAILED to generate valid code for %s after multiple attempts. Last error: %s", rec.SourceFilename, out.Reason))
	}

	if p.Store != nil && sum.RunID != "" {
		if err := p.Store.SaveOutcome(ctx, row); err != nil {
			log.Warn("failed to save outcome", zap.String("class", rec.ClassName), zap.Error(err))
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, sum *Summary, errMsg string) {
	if p.Store == nil || sum.RunID == "" {
		return
	}
	// The run context may already be cancelled; history should still close.
	err := p.Store.FinishRun(context.WithoutCancel(ctx), sum.RunID, store.RunTotals{
		Total:       sum.Total,
		Succeeded:   sum.Succeeded,
		Skipped:     sum.Skipped,
		Failed:      sum.Failed,
		Cached:      sum.Cached,
		ArchivePath: sum.ArchivePath,
		DownloadURL: sum.DownloadURL,
		Error:       errMsg,
	})
	if err != nil {
		log.Warn("failed to finish run", zap.String("run_id", sum.RunID), zap.Error(err))
	}
}
