// Package metrics exposes Prometheus metrics for call scheduling and the
// voice provider integration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for the service.
var Registry = prometheus.NewRegistry()

// factory registers metrics to our custom Registry directly.
var factory = promauto.With(Registry)

// CallsStartedTotal counts call attempts handed to the orchestrator.
var CallsStartedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "eldervoice",
	Name:      "calls_started_total",
	Help:      "Total number of scheduled call attempts started",
})

// CallOutcomesTotal counts finished call attempts by outcome.
var CallOutcomesTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eldervoice",
	Name:      "call_outcomes_total",
	Help:      "Call attempts by final outcome (completed or not_connected)",
}, []string{"outcome"})

// CallDurationSeconds tracks connected call durations.
var CallDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "eldervoice",
	Name:      "call_duration_seconds",
	Help:      "Duration of connected calls",
	Buckets:   []float64{30, 60, 120, 180, 300, 450, 600, 900},
})

// ProviderRequestDuration tracks round-trip latency per provider operation.
var ProviderRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "provider",
	Name:      "request_duration_seconds",
	Help:      "Voice provider request latency by operation",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
}, []string{"operation"})

// ProviderReachable reflects the last health probe result (1 reachable, 0 not).
var ProviderReachable = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "provider",
	Name:      "reachable",
	Help:      "Whether the last voice provider health probe succeeded",
})

// ActiveSessions tracks currently open conversation sessions.
var ActiveSessions = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "provider",
	Name:      "active_sessions",
	Help:      "Number of conversation sessions currently active",
})

// ScheduledCallsDueTotal counts schedules the trigger loop found due.
var ScheduledCallsDueTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "eldervoice",
	Name:      "scheduled_calls_due_total",
	Help:      "Total number of due scheduled calls detected by the trigger loop",
})
