// Package orchestrator runs the generate-validate-repair loop and drives it
// over a batch of parser records.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/valpere/parserport/internal"
	"github.com/valpere/parserport/internal/completion"
	"github.com/valpere/parserport/internal/metrics"
	"github.com/valpere/parserport/internal/postprocess"
	"github.com/valpere/parserport/internal/prompt"
	"github.com/valpere/parserport/internal/validator"
)

// MaxAttempts is the number of model invocations allowed per record.
const MaxAttempts = 3

// NoUsableResponse is the diagnostic recorded when an attempt produced no text.
const NoUsableResponse = "no usable response"

// Validator checks generated code.
type Validator interface {
	Check(ctx context.Context, code string) validator.Result
}

// Attempt is one request/response round of the loop.
type Attempt struct {
	Number      int
	PromptKind  prompt.Kind
	PriorError  string
	RawResponse string
	CleanedCode string
	Valid       bool
	Diagnostic  string
	// Err is the completion error when RawResponse is empty.
	Err error
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the terminal result for one record. Code is set for success;
// Reason carries the skip reason or the last diagnostic.
type Outcome struct {
	Status   Status
	Code     string
	Reason   string
	Attempts int
	Cached   bool
}

func Success(code string, attempts int) Outcome {
	return Outcome{Status: StatusSuccess, Code: code, Attempts: attempts}
}

func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

func Failed(diagnostic string, attempts int) Outcome {
	return Outcome{Status: StatusFailed, Reason: diagnostic, Attempts: attempts}
}

// Loop converts a single record. It holds no per-record state and may be
// shared by concurrent callers.
type Loop struct {
	completer completion.Completer
	validator Validator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewLoop creates a Loop. logger and m may be nil.
func NewLoop(c completion.Completer, v Validator, logger *zap.Logger, m *metrics.Metrics) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{completer: c, validator: v, logger: logger, metrics: m}
}

// Run converts rec given its raw source text. onAttempt, if set, is called
// after every attempt. Cancellation is honored between attempts only.
func (l *Loop) Run(ctx context.Context, rec internal.ParserRecord, source string, onAttempt func(Attempt)) Outcome {
	initial := prompt.Initial(rec, source)
	log := l.logger.With(zap.String("class", rec.ClassName), zap.String("source", rec.SourceFilename))

	var last Attempt
	for n := 1; n <= MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Failed(fmt.Sprintf("cancelled: %v", context.Cause(ctx)), n-1)
		}

		att := Attempt{Number: n, PromptKind: prompt.KindInitial}
		p := initial
		if n > 1 {
			att.PromptKind = prompt.KindCorrective
			att.PriorError = last.Diagnostic
			if last.CleanedCode != "" {
				p = prompt.Corrective(last.CleanedCode, last.Diagnostic)
			} else {
				p = prompt.Resend(initial, last.Diagnostic)
			}
		}

		l.attempt(ctx, &att, p)

		result := "invalid"
		switch {
		case att.Valid:
			result = "valid"
		case att.RawResponse == "":
			result = "no_response"
		}
		l.metrics.ObserveAttempt(att.PromptKind.String(), result)
		log.Debug("attempt finished",
			zap.Int("attempt", n),
			zap.Stringer("prompt_kind", att.PromptKind),
			zap.String("result", result),
			zap.String("diagnostic", att.Diagnostic),
		)
		if onAttempt != nil {
			onAttempt(att)
		}

		if att.Valid {
			return Success(att.CleanedCode, n)
		}
		last = att
	}

	return Failed(last.Diagnostic, MaxAttempts)
}

func (l *Loop) attempt(ctx context.Context, att *Attempt, p string) {
	raw, err := l.completer.Complete(ctx, p)
	if err != nil || raw == "" {
		att.Err = err
		att.Diagnostic = NoUsableResponse
		return
	}

	att.RawResponse = raw
	att.CleanedCode = postprocess.Clean(raw)

	res := l.validator.Check(ctx, att.CleanedCode)
	att.Valid = res.Valid
	att.Diagnostic = res.Diagnostic
}
