// Package metrics exposes prometheus instruments for the orchestration core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "advisor"

type Metrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	verdicts        *prometheus.CounterVec
	batches         prometheus.Histogram
	fallbacks       prometheus.Counter
	strategies      *prometheus.CounterVec
	queries         *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	costUSD         prometheus.Counter
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer
// to serve them from promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: kind (initial, retry, continuation), outcome (ok, error, fallback)
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "attempts_total",
			Help:      "Gateway attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "attempt_duration_seconds",
			Help:      "Gateway attempt latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"kind"}),
		// Labels: complete (true, false), confidence (low, medium, high)
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "verdicts_total",
			Help:      "Truncation verdicts by completeness and confidence",
		}, []string{"complete", "confidence"}),
		batches: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "batches_per_query",
			Help:      "Number of batches merged into one answer",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fallbacks_total",
			Help:      "Degraded fallback answers received",
		}),
		strategies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "strategy_total",
			Help:      "Context lookups by resulting strategy label",
		}, []string{"strategy"}),
		// Labels: outcome (complete, truncated, offered, failed, stale)
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "queries_total",
			Help:      "Queries by terminal outcome",
		}, []string{"outcome"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model",
		}, []string{"model", "type"}),
		costUSD: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "cost_usd_total",
			Help:      "Estimated model spend in USD",
		}),
	}
}

func (m *Metrics) ObserveAttempt(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind, outcome).Inc()
	m.attemptDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveVerdict(complete bool, confidence string) {
	if m == nil {
		return
	}
	c := "false"
	if complete {
		c = "true"
	}
	m.verdicts.WithLabelValues(c, confidence).Inc()
}

func (m *Metrics) ObserveBatches(n int) {
	if m == nil {
		return
	}
	m.batches.Observe(float64(n))
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) ObserveStrategy(strategy string) {
	if m == nil {
		return
	}
	m.strategies.WithLabelValues(strategy).Inc()
}

func (m *Metrics) ObserveQuery(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

// ObserveTokens satisfies observers.TokenRecorder.
func (m *Metrics) ObserveTokens(model string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.tokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

func (m *Metrics) AddCost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.costUSD.Add(usd)
}
