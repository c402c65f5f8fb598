package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveCompletion("gemini", "ok", 2*time.Second)
	m.ObserveCompletion("gemini", "ok", time.Second)
	m.ObserveCompletion("gemini", "transport_error", time.Second)
	m.ObserveAttempt("initial", "invalid")
	m.ObserveOutcome("success", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CompletionRequests.WithLabelValues("gemini", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionRequests.WithLabelValues("gemini", "transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairAttempts.WithLabelValues("initial", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCompletion("gemini", "ok", time.Second)
	m.ObserveAttempt("initial", "valid")
	m.ObserveOutcome("failed", 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveOutcome("skipped", 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `parserport_conversion_outcomes_total{status="skipped"} 1`))
}
