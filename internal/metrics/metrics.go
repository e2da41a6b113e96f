package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "starts_total",
			Help:      "Number of successful child process starts.",
		}, []string{"instance"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "stops_total",
			Help:      "Number of clean stops.",
		}, []string{"instance"},
	)
	crashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "crashes_total",
			Help:      "Number of unexpected child exits.",
		}, []string{"instance"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of scheduled restart attempts.",
		}, []string{"instance"},
	)
	errorsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "errors_detected_total",
			Help:      "Structured errors detected in child output.",
		}, []string{"instance"},
	)
	healthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "health_check_failures_total",
			Help:      "Health-check ticks that reported at least one issue.",
		}, []string{"instance"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "log_lines_total",
			Help:      "Captured child output lines per stream.",
		}, []string{"instance", "stream"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between supervisor states.",
		}, []string{"instance", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "procwatch",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"instance", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		starts, stops, crashes, restarts, errorsDetected,
		healthFailures, logLines, stateTransitions, currentStates,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(instance string) {
	if regOK.Load() {
		starts.WithLabelValues(instance).Inc()
	}
}

func IncStop(instance string) {
	if regOK.Load() {
		stops.WithLabelValues(instance).Inc()
	}
}

func IncCrash(instance string) {
	if regOK.Load() {
		crashes.WithLabelValues(instance).Inc()
	}
}

func IncRestart(instance string) {
	if regOK.Load() {
		restarts.WithLabelValues(instance).Inc()
	}
}

func IncErrorDetected(instance string) {
	if regOK.Load() {
		errorsDetected.WithLabelValues(instance).Inc()
	}
}

func IncHealthFailure(instance string) {
	if regOK.Load() {
		healthFailures.WithLabelValues(instance).Inc()
	}
}

func IncLogLine(instance, stream string) {
	if regOK.Load() {
		logLines.WithLabelValues(instance, stream).Inc()
	}
}

// RecordStateTransition bumps the transition counter and flips the
// current-state gauge from the old state to the new one.
func RecordStateTransition(instance, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(instance, from, to).Inc()
		currentStates.WithLabelValues(instance, from).Set(0)
		currentStates.WithLabelValues(instance, to).Set(1)
	}
}
