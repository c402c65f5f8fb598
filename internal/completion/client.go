package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/valpere/parserport/internal/metrics"
)

// Transport retry policy: three attempts in total, backing off 1s, 2s, 4s...
const (
	MaxTransportAttempts = 3
	DefaultBaseDelay     = time.Second
	DefaultTimeout       = 120 * time.Second
)

// Client adds timeouts, rate limiting and transport retries to a Backend.
// It keeps no per-call state and is safe for concurrent use.
type Client struct {
	backend     Backend
	params      Params
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithParams overrides the generation parameters.
func WithParams(p Params) Option {
	return func(c *Client) {
		if p.Temperature >= 0 {
			c.params.Temperature = p.Temperature
		}
		if p.MaxOutputTokens > 0 {
			c.params.MaxOutputTokens = p.MaxOutputTokens
		}
	}
}

// WithTimeout sets the deadline applied to each individual request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBaseDelay sets the first backoff delay; later delays double it.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithRateLimit caps requests per minute. Zero disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New wraps backend with the default retry policy.
func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:     backend,
		params:      DefaultParams(),
		maxAttempts: MaxTransportAttempts,
		baseDelay:   DefaultBaseDelay,
		timeout:     DefaultTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name.
func (c *Client) Name() string {
	return c.backend.Name()
}

// Complete sends prompt and returns the text of the first candidate.
//
// Transport failures are retried with exponential backoff; content errors and
// non-retryable status errors are returned at once. After the last failed
// attempt the error is a *TransportError.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("completion: empty prompt")
	}

	var last error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("completion: rate limiter: %w", err)
			}
		}

		text, err := c.generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !retryable(err) {
			return "", err
		}
		last = err

		if ctx.Err() != nil {
			return "", &TransportError{Backend: c.Name(), Attempts: attempt, Err: err}
		}

		c.logger.Warn("completion request failed",
			zap.String("backend", c.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == c.maxAttempts {
			break
		}

		delay := c.baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &TransportError{Backend: c.Name(), Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	return "", &TransportError{Backend: c.Name(), Attempts: c.maxAttempts, Err: last}
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.backend.Generate(reqCtx, prompt, c.params)
	if err == nil && strings.TrimSpace(text) == "" {
		err = &ContentError{Backend: c.Name(), Reason: "empty response text"}
	}
	c.metrics.ObserveCompletion(c.Name(), resultLabel(err), time.Since(start))
	return text, err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ce *ContentError
	if errors.As(err, &ce) {
		return "content_error"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return "status_error"
	}
	return "transport_error"
}
