// Package observability provides the Prometheus metrics and OpenTelemetry
// tracing ambient to every MAGI component, per §2/§3. Grounded on the
// teacher's internal/observability (promauto.NewGaugeVec/HistogramVec
// registration style, a struct of named metrics handed to constructors),
// trimmed from the teacher's chat-bot-shaped surface (webhooks, HTTP,
// database, per-channel sessions) to the process/tool/provider metrics
// §4 names: active tasks, running tools, provider latency/cost.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide set of Prometheus collectors MAGI exports.
type Metrics struct {
	// ActiveTasks gauges the supervisor's non-terminal process count.
	ActiveTasks prometheus.Gauge

	// RunningTools gauges the tool executor's in-flight call count.
	RunningTools prometheus.Gauge

	// ProviderRequestDuration measures provider call latency.
	// Labels: provider, model, status (success|error)
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderCostUSD accumulates estimated spend from cost_update events.
	// Labels: provider, model
	ProviderCostUSD *prometheus.CounterVec

	// ToolExecutionDuration measures tool call latency.
	// Labels: tool_name, status (success|error)
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool calls.
	// Labels: tool_name, status
	ToolExecutionCounter *prometheus.CounterVec

	// HistoryCompactions counts internal/history.Store.Compact runs.
	// Labels: outcome (summarized|tail_truncated)
	HistoryCompactions *prometheus.CounterVec
}

// NewMetrics registers and returns the MAGI metric set. Call once per
// process.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "magi_active_tasks",
			Help: "Current number of non-terminal supervised processes.",
		}),
		RunningTools: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "magi_running_tools",
			Help: "Current number of in-flight tool executions.",
		}),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magi_provider_request_duration_seconds",
				Help:    "Duration of provider streaming requests in seconds.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"provider", "model", "status"},
		),
		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_provider_requests_total",
				Help: "Total provider requests by provider, model, and status.",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_provider_cost_usd_total",
				Help: "Estimated provider spend in USD, folded from cost_update events.",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magi_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_tool_executions_total",
				Help: "Total tool executions by tool name and status.",
			},
			[]string{"tool_name", "status"},
		),
		HistoryCompactions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_history_compactions_total",
				Help: "Total history compaction runs by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// RecordProviderRequest records one provider call's latency, status, and
// cost.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds, costUSD float64) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model, status).Observe(durationSeconds)
	if costUSD > 0 {
		m.ProviderCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordToolExecution records one tool call's latency and status.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName, status).Observe(durationSeconds)
}

// RecordHistoryCompaction records a compaction run's outcome.
func (m *Metrics) RecordHistoryCompaction(outcome string) {
	m.HistoryCompactions.WithLabelValues(outcome).Inc()
}

// SetActiveTasks sets the active-task gauge to count.
func (m *Metrics) SetActiveTasks(count int) {
	m.ActiveTasks.Set(float64(count))
}

// SetRunningTools sets the running-tools gauge to count.
func (m *Metrics) SetRunningTools(count int) {
	m.RunningTools.Set(float64(count))
}
