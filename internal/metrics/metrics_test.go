package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestCountersAndStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	IncStart("web")
	IncStart("web")
	IncCrash("web")
	IncLogLine("web", "stdout")
	RecordStateTransition("web", "starting", "running")

	if got := testutil.ToFloat64(starts.WithLabelValues("web")); got != 2 {
		t.Fatalf("starts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(crashes.WithLabelValues("web")); got != 1 {
		t.Fatalf("crashes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(logLines.WithLabelValues("web", "stdout")); got != 1 {
		t.Fatalf("log lines = %v, want 1", got)
	}
	if got := testutil.ToFloat64(currentStates.WithLabelValues("web", "running")); got != 1 {
		t.Fatalf("running gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(currentStates.WithLabelValues("web", "starting")); got != 0 {
		t.Fatalf("starting gauge = %v, want 0", got)
	}
}
