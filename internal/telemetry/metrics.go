package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mcpforge/internal/forge"
)

// Metrics are the loop's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	queries       *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	attemptTime   *prometheus.HistogramVec
	regenerations prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpforge",
			Name:      "queries_total",
			Help:      "Queries by terminal outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpforge",
			Name:      "attempts_total",
			Help:      "Build+run attempts by status.",
		}, []string{"status"}),
		attemptTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpforge",
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of one build+run attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		regenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpforge",
			Name:      "regenerations_total",
			Help:      "Regeneration requests sent to the generator.",
		}),
	}
	reg.MustRegister(m.queries, m.attempts, m.attemptTime, m.regenerations)
	return m
}

func (m *Metrics) ObserveQuery(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAttempt(status forge.AttemptStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(status.String()).Inc()
	m.attemptTime.WithLabelValues(status.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRegeneration() {
	if m == nil {
		return
	}
	m.regenerations.Inc()
}
