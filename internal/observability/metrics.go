// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the orchestrator's turn, tool, and storage paths, via
// promauto-backed CounterVec/HistogramVec/GaugeVec construction and an
// OTLP gRPC exporter, narrowed to world-activity, turn, and tool
// metrics rather than a channel/webhook/HTTP metric surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters/histograms/gauges the orchestrator emits
// during a turn: turns, tool executions, approvals, and event-store
// writes. ActiveWorlds and ToolDuration are registered, but no package
// updates them.
type Metrics struct {
	TurnsStarted   *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	TurnFailures   *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	ApprovalsTotal *prometheus.CounterVec
	ActiveWorlds   prometheus.Gauge
	EventsStored   *prometheus.CounterVec
}

// NewMetrics registers agentworld's metric families against reg.
// Callers pass a dedicated *prometheus.Registry (not
// prometheus.DefaultRegisterer) so tests and multiple runtime instances
// in one process don't collide on duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentworld_turns_total",
				Help: "Total number of agent turns started, by agent and trigger rule.",
			},
			[]string{"agent_id", "trigger_rule"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentworld_turn_duration_seconds",
				Help:    "Duration of a full agent turn in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent_id", "provider"},
		),
		TurnFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentworld_turn_failures_total",
				Help: "Total number of agent turns that ended in failure, by failure kind.",
			},
			[]string{"agent_id", "kind"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentworld_tool_executions_total",
				Help: "Total number of tool executions, by tool name and status.",
			},
			[]string{"tool_name", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentworld_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ApprovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentworld_approvals_total",
				Help: "Total number of approval decisions, by tool name and decision.",
			},
			[]string{"tool_name", "decision"},
		),
		ActiveWorlds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentworld_active_worlds",
				Help: "Current number of loaded worlds.",
			},
		),
		EventsStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentworld_events_stored_total",
				Help: "Total number of events persisted to the event store, by event type.",
			},
			[]string{"event_type"},
		),
	}
}
