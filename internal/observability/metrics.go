// Package observability provides metrics and tracing for the gateway:
// Prometheus counters/histograms/gauges covering the cycle lifecycle,
// tool execution, and the fan-out bus, plus an OpenTelemetry tracer for
// cross-component spans.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized collection of Prometheus instruments for the
// gateway. All fields are safe for concurrent use.
type Metrics struct {
	// CycleCounter counts finished think cycles by outcome.
	// Labels: agent_entity_id, status (completed|failed|rolled_back)
	CycleCounter *prometheus.CounterVec

	// CycleDuration measures wall-clock cycle duration in seconds.
	// Labels: agent_entity_id
	CycleDuration *prometheus.HistogramVec

	// InboxDepth is a gauge of pending inbox events per agent.
	// Labels: agent_entity_id
	InboxDepth *prometheus.GaugeVec

	// ConsciousnessTokens is a gauge of the estimated token count of an
	// agent's carried memory after its most recent save.
	// Labels: agent_entity_id
	ConsciousnessTokens *prometheus.GaugeVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|pending|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// FanoutEventCounter counts events published by the bus.
	// Labels: event_type
	FanoutEventCounter *prometheus.CounterVec

	// ActiveWorkers is a gauge of currently supervised agent worker
	// goroutines.
	ActiveWorkers prometheus.Gauge

	// PlanFireCounter counts plan scheduler firings.
	// Labels: outcome (ok|error)
	PlanFireCounter *prometheus.CounterVec

	// AsyncToolPending is a gauge of tool calls currently awaiting an
	// external SubmitToolResult.
	AsyncToolPending prometheus.Gauge

	// CompactionCounter counts consciousness compaction runs.
	CompactionCounter prometheus.Counter
}

// NewMetrics constructs and registers all instruments against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CycleCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cycles_total",
			Help: "Total think cycles run, by agent and outcome.",
		}, []string{"agent_entity_id", "status"}),

		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_cycle_duration_seconds",
			Help:    "Think cycle duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"agent_entity_id"}),

		InboxDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_inbox_depth",
			Help: "Pending inbox events per agent.",
		}, []string{"agent_entity_id"}),

		ConsciousnessTokens: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_consciousness_tokens",
			Help: "Estimated token count of an agent's carried memory.",
		}, []string{"agent_entity_id"}),

		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_executions_total",
			Help: "Total tool executions, by tool and outcome.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		FanoutEventCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fanout_events_total",
			Help: "Total events published to the fan-out bus, by type.",
		}, []string{"event_type"}),

		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_workers",
			Help: "Number of currently supervised agent worker goroutines.",
		}),

		PlanFireCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "plan_fires_total",
			Help: "Total plan scheduler firings, by outcome.",
		}, []string{"outcome"}),

		AsyncToolPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "async_tool_pending_total",
			Help: "Tool calls currently awaiting an external SubmitToolResult.",
		}),

		CompactionCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compaction_runs_total",
			Help: "Total consciousness compaction runs.",
		}),
	}
}

// RecordCycle records the outcome and duration of one completed cycle.
func (m *Metrics) RecordCycle(agentEntityID, status string, durationSeconds float64) {
	m.CycleCounter.WithLabelValues(agentEntityID, status).Inc()
	m.CycleDuration.WithLabelValues(agentEntityID).Observe(durationSeconds)
}

// RecordToolExecution records the outcome and duration of one tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordFanoutEvent records one event published to the bus.
func (m *Metrics) RecordFanoutEvent(eventType string) {
	m.FanoutEventCounter.WithLabelValues(eventType).Inc()
}

// RecordPlanFire records the outcome of one plan scheduler firing.
func (m *Metrics) RecordPlanFire(outcome string) {
	m.PlanFireCounter.WithLabelValues(outcome).Inc()
}

// IncAsyncToolPending and DecAsyncToolPending track the number of tool
// calls currently awaiting an external SubmitToolResult.
func (m *Metrics) IncAsyncToolPending() { m.AsyncToolPending.Inc() }
func (m *Metrics) DecAsyncToolPending() { m.AsyncToolPending.Dec() }

// RecordCompaction records one consciousness compaction run.
func (m *Metrics) RecordCompaction() {
	m.CompactionCounter.Inc()
}
