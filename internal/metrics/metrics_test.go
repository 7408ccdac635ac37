package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Batch("cam-1", 2)
	m.Batch("cam-1", 0)
	m.Match("people", "person")
	m.RateLimited("people")
	m.Dispatch("phone", true)
	m.Dispatch("push", false)
	m.Motion("cam-1", true)
	m.Attached(3)
	m.Rules(4, 1)

	if got := testutil.ToFloat64(m.batches.WithLabelValues("cam-1")); got != 2 {
		t.Errorf("batches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("cam-1")); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("push", ResultError)); got != 1 {
		t.Errorf("failed dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.motion.WithLabelValues("cam-1", "active")); got != 1 {
		t.Errorf("active transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.attached); got != 3 {
		t.Errorf("attached = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.rulesRejected); got != 1 {
		t.Errorf("rules rejected = %v, want 1", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if n == 0 {
		t.Error("no metrics gathered")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Batch("cam-1", 1)
	m.Match("r", "person")
	m.Dispatch("n", true)
	m.Motion("cam-1", false)
	m.Attached(1)
	m.Rules(1, 0)
}
