// Package metrics exposes the agent's prometheus collectors: command
// counts, dispatch outcomes, and heartbeat latency. Grounded on
// pkg/metrics/metrics.go's package-level collector vars registered in
// init() plus a promhttp.Handler, adapted from cluster/raft gauges to
// the command/heartbeat/hardware-dispatch surface this agent exposes.
//
// Only the heartbeat collectors and LookupAttempts are updated by the
// agent. CommandsAccepted, CommandsRejectedBusy, CommandResultsTotal,
// CommandDuration and HardwareDispatchFallthrough are registered and
// exported, but nothing in this module increments or observes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_commands_accepted_total",
			Help: "Total number of commands accepted by name.",
		},
		[]string{"command"},
	)

	CommandsRejectedBusy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_commands_rejected_busy_total",
			Help: "Total number of commands rejected with AgentIsBusy.",
		},
	)

	CommandResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_command_results_total",
			Help: "Total number of terminal command results by status.",
		},
		[]string{"status"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_command_duration_seconds",
			Help:    "Command execution duration in seconds, from acceptance to terminal status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	HardwareDispatchFallthrough = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_hardware_dispatch_fallthrough_total",
			Help: "Total number of times dispatch fell through to the next hardware manager.",
		},
		[]string{"method"},
	)

	HeartbeatsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_heartbeats_sent_total",
			Help: "Total number of heartbeat requests sent to the director.",
		},
	)

	HeartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_heartbeat_failures_total",
			Help: "Total number of heartbeat requests that did not succeed.",
		},
	)

	HeartbeatLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_heartbeat_latency_seconds",
			Help:    "Heartbeat round-trip latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	LookupAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_lookup_attempts_total",
			Help: "Total number of director lookup attempts made at startup.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsAccepted,
		CommandsRejectedBusy,
		CommandResultsTotal,
		CommandDuration,
		HardwareDispatchFallthrough,
		HeartbeatsSent,
		HeartbeatFailures,
		HeartbeatLatency,
		LookupAttempts,
	)
}

// Handler returns the HTTP handler promhttp serves /metrics from.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later observation against
// a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against a labeled
// histogram vector.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time without recording it.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
