package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mcpforge/internal/forge"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveQuery("success")
	m.ObserveAttempt(forge.StatusBuildError, 3*time.Second)
	m.ObserveAttempt(forge.StatusSuccess, time.Second)
	m.ObserveRegeneration()

	if got := testutil.ToFloat64(m.queries.WithLabelValues("success")); got != 1 {
		t.Fatalf("queries = %v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("build_error")); got != 1 {
		t.Fatalf("build_error attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.regenerations); got != 1 {
		t.Fatalf("regenerations = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveQuery("failed")
	m.ObserveAttempt(forge.StatusRuntimeError, time.Second)
	m.ObserveRegeneration()
}
