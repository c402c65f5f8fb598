// Package metrics exports Prometheus metrics for the conversion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parserport"

// Metrics holds all pipeline collectors. A nil *Metrics is valid and records
// nothing, so components can treat metrics as optional.
type Metrics struct {
	CompletionRequests *prometheus.CounterVec
	CompletionLatency  *prometheus.HistogramVec
	RepairAttempts     *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	ConversionDuration prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CompletionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Completion endpoint requests by backend and result",
		}, []string{"backend", "result"}),
		CompletionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_request_duration_seconds",
			Help:      "Latency of a single completion request",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"backend"}),
		RepairAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_attempts_total",
			Help:      "Repair loop attempts by prompt kind and validation result",
		}, []string{"prompt_kind", "result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_outcomes_total",
			Help:      "Per-record conversion outcomes",
		}, []string{"status"}),
		ConversionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of one record's repair loop",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		gatherer: g,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveCompletion records one completion request.
func (m *Metrics) ObserveCompletion(backend, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionRequests.WithLabelValues(backend, result).Inc()
	m.CompletionLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveAttempt records one repair loop attempt.
func (m *Metrics) ObserveAttempt(promptKind, result string) {
	if m == nil {
		return
	}
	m.RepairAttempts.WithLabelValues(promptKind, result).Inc()
}

// ObserveOutcome records a terminal outcome and, for executed loops, its duration.
func (m *Metrics) ObserveOutcome(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(status).Inc()
	if d > 0 {
		m.ConversionDuration.Observe(d.Seconds())
	}
}
