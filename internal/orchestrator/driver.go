package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/parserport/internal"
	"github.com/valpere/parserport/internal/metrics"
	"github.com/valpere/parserport/internal/source"
)

// Memory stores code already validated for an unchanged record.
type Memory interface {
	Lookup(ctx context.Context, rec internal.ParserRecord, src string) (string, bool, error)
	Remember(ctx context.Context, rec internal.ParserRecord, src, code string) error
}

// Result pairs a record with its outcome. Index is the record's input position.
type Result struct {
	Index   int
	Record  internal.ParserRecord
	Outcome Outcome
}

// Hooks receive progress as it happens. Calls are serialized.
type Hooks struct {
	OnStart   func(index, total int, rec internal.ParserRecord)
	OnAttempt func(index int, rec internal.ParserRecord, att Attempt)
	OnResult  func(total int, res Result)
}

type DriverConfig struct {
	// Concurrency bounds how many records run at once. Zero means 1.
	Concurrency int
	Memory      Memory
	Hooks       Hooks
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Driver runs the loop over a batch of records and never aborts the batch.
type Driver struct {
	loop    *Loop
	sources source.Provider
	memory  Memory
	hooks   Hooks
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu sync.Mutex
}

func NewDriver(loop *Loop, sources source.Provider, cfg DriverConfig) *Driver {
	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		loop:    loop,
		sources: sources,
		memory:  cfg.Memory,
		hooks:   cfg.Hooks,
		limit:   limit,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Run converts records and returns one result per record in input order.
// Each result is also passed to Hooks.OnResult as soon as it is known.
func (d *Driver) Run(ctx context.Context, records []internal.ParserRecord) []Result {
	total := len(records)
	results := make([]Result, total)

	var g errgroup.Group
	g.SetLimit(d.limit)

	for i, rec := range records {
		g.Go(func() error {
			var out Outcome
			if ctx.Err() != nil {
				out = Skipped("cancelled")
			} else {
				d.emit(func() {
					if d.hooks.OnStart != nil {
						d.hooks.OnStart(i, total, rec)
					}
				})
				out = d.convert(ctx, rec, nil, func(att Attempt) {
					d.emit(func() {
						if d.hooks.OnAttempt != nil {
							d.hooks.OnAttempt(i, rec, att)
						}
					})
				})
			}

			res := Result{Index: i, Record: rec, Outcome: out}
			results[i] = res
			d.emit(func() {
				if d.hooks.OnResult != nil {
					d.hooks.OnResult(total, res)
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ConvertOne converts a single record, looking its source up by filename.
func (d *Driver) ConvertOne(ctx context.Context, rec internal.ParserRecord) Outcome {
	return d.convert(ctx, rec, nil, nil)
}

// ConvertSource converts a single record using src as its source text.
func (d *Driver) ConvertSource(ctx context.Context, rec internal.ParserRecord, src string) Outcome {
	return d.convert(ctx, rec, &src, nil)
}

func (d *Driver) convert(ctx context.Context, rec internal.ParserRecord, src *string, onAttempt func(Attempt)) Outcome {
	log := d.logger.With(zap.String("class", rec.ClassName), zap.String("source", rec.SourceFilename))

	if err := rec.Validate(); err != nil {
		d.metrics.ObserveOutcome(string(StatusSkipped), 0)
		return Skipped(fmt.Sprintf("invalid record: %v", err))
	}

	var text string
	if src != nil {
		text = *src
	} else {
		var err error
		text, err = d.sources.Lookup(ctx, rec.SourceFilename)
		if err != nil {
			d.metrics.ObserveOutcome(string(StatusSkipped), 0)
			if errors.Is(err, source.ErrNotFound) {
				return Skipped("source not found")
			}
			log.Warn("source lookup failed", zap.Error(err))
			return Skipped(fmt.Sprintf("source unavailable: %v", err))
		}
	}

	if d.memory != nil {
		code, ok, err := d.memory.Lookup(ctx, rec, text)
		if err != nil {
			log.Warn("conversion memory lookup failed", zap.Error(err))
		} else if ok {
			d.metrics.ObserveOutcome(string(StatusSuccess), 0)
			out := Success(code, 0)
			out.Cached = true
			return out
		}
	}

	start := time.Now()
	out := d.loop.Run(ctx, rec, text, onAttempt)
	d.metrics.ObserveOutcome(string(out.Status), time.Since(start))

	if out.Status == StatusSuccess && d.memory != nil {
		if err := d.memory.Remember(ctx, rec, text, out.Code); err != nil {
			log.Warn("failed to remember conversion", zap.Error(err))
		}
	}
	return out
}

func (d *Driver) emit(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}
