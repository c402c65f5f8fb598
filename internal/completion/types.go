// Package completion talks to external text-generation endpoints.
//
// A Backend issues exactly one request. Client wraps a Backend with the
// per-request timeout, rate limit and bounded transport retries every caller
// needs, and classifies failures into transport, content and status errors.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Default generation parameters: low temperature for literal output, and an
// output cap large enough for a whole class definition.
const (
	DefaultTemperature     = 0.2
	DefaultMaxOutputTokens = 4096
)

// ErrMissingCredential is returned by backend constructors when the endpoint
// credential is not configured.
var ErrMissingCredential = errors.New("completion: API credential not configured")

// Params are the generation settings sent with every request.
type Params struct {
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`
}

// DefaultParams returns the standard generation settings.
func DefaultParams() Params {
	return Params{Temperature: DefaultTemperature, MaxOutputTokens: DefaultMaxOutputTokens}
}

// Backend performs a single generation request against one provider.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// Completer is what the repair loop depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ContentError reports a well-formed response that carried no usable text,
// for example a prompt blocked by a safety filter. It is never retried.
type ContentError struct {
	Backend string
	Reason  string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("%s: no usable content: %s", e.Backend, e.Reason)
}

// StatusError is an HTTP-level failure reported by the endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API returned status %d", e.Code)
	}
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests ||
		e.Code >= http.StatusInternalServerError
}

// TransportError is returned once every transport attempt has failed.
type TransportError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed after %d attempts: %v", e.Backend, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// retryable reports whether err is a transport-level failure.
func retryable(err error) bool {
	var ce *ContentError
	if errors.As(err, &ce) {
		return false
	}
	if errors.Is(err, ErrMissingCredential) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
