package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAttempt("initial", "ok", time.Second)
	m.ObserveAttempt("initial", "ok", time.Second)
	m.ObserveVerdict(false, "medium")
	m.IncFallback()
	m.ObserveStrategy("hybrid")
	m.ObserveQuery("complete")
	m.ObserveTokens("gemini-2.5-flash", 100, 40)
	m.AddCost(0.5)
	m.AddCost(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("initial", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("false", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategies.WithLabelValues("hybrid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("complete")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.tokens.WithLabelValues("gemini-2.5-flash", "prompt")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.tokens.WithLabelValues("gemini-2.5-flash", "completion")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.costUSD))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("initial", "ok", time.Second)
		m.ObserveVerdict(true, "high")
		m.ObserveBatches(2)
		m.IncFallback()
		m.ObserveStrategy("failed")
		m.ObserveQuery("stale")
		m.ObserveTokens("x", 1, 1)
		m.AddCost(1)
	})
}

func TestMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
