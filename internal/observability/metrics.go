package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide set of Prometheus collectors for
// agentscriptd: session lifecycle, script validation outcomes, tool
// dispatch, and the HTTP API that fronts the broker. Grounded on the
// teacher's observability.Metrics (promauto-registered CounterVec /
// HistogramVec / GaugeVec, one struct field per signal), retargeted from
// chat-platform/LLM metrics to the session-broker domain.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SessionCreated("STANDARD")
//	defer metrics.ToolExecutionDuration.WithLabelValues("getUser").Observe(time.Since(start).Seconds())
type Metrics struct {
	// SessionCounter counts sessions by security level and outcome.
	// Labels: level (STRICT|SECURE|STANDARD|PERMISSIVE), outcome (started|completed|cancelled|error)
	SessionCounter *prometheus.CounterVec

	// ActiveSessions is the current number of in-flight sessions, by level.
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures session lifetime in seconds, by level.
	SessionDuration *prometheus.HistogramVec

	// ValidationCounter counts script validation outcomes by rule code.
	// Labels: rule_code (empty for a pass), result (pass|fail)
	ValidationCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolCallQueueDepth tracks how many tool calls are awaiting a
	// result for a session, by level.
	ToolCallQueueDepth *prometheus.GaugeVec

	// EventsEmitted counts protocol events emitted over the outbound
	// channel, by event type.
	EventsEmitted *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (broker|session|saferuntime|channel), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP API requests.
	HTTPRequestCounter *prometheus.CounterVec

	// SessionsStartedTotal counts every session the broker actually
	// started running (post-validation).
	SessionsStartedTotal prometheus.Counter

	// ToolCallsTotal counts every __safe_callTool dispatch, across all
	// sessions and tool names.
	ToolCallsTotal prometheus.Counter

	// LimitViolationsTotal counts sessions that failed on a resource
	// budget, by the wire error code (ITERATION_LIMIT, TOOL_CALL_LIMIT,
	// STDOUT_LIMIT, TIMEOUT).
	LimitViolationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus collectors with the
// default registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_sessions_total",
				Help: "Total number of sessions by security level and outcome",
			},
			[]string{"level", "outcome"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentscript_active_sessions",
				Help: "Current number of in-flight sessions by security level",
			},
			[]string{"level"},
		),

		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscript_session_duration_seconds",
				Help:    "Duration of sessions in seconds by security level",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"level"},
		),

		ValidationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_validation_total",
				Help: "Total number of script validation outcomes by rule code and result",
			},
			[]string{"rule_code", "result"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscript_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		ToolCallQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentscript_tool_call_queue_depth",
				Help: "Number of tool calls currently awaiting a result, by security level",
			},
			[]string{"level"},
		),

		EventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_events_emitted_total",
				Help: "Total number of protocol events emitted, by event type",
			},
			[]string{"event_type"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscript_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status_code"},
		),

		SessionsStartedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentscript_sessions_started_total",
			Help: "Total number of sessions started by the broker.",
		}),

		ToolCallsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentscript_tool_calls_total",
			Help: "Total number of tool calls dispatched across all sessions.",
		}),

		LimitViolationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscript_limit_violations_total",
				Help: "Total number of sessions that failed on a resource budget, by error code.",
			},
			[]string{"code"},
		),
	}
}

// SessionCreated records a session entering the started state.
func (m *Metrics) SessionCreated(level string) {
	m.SessionCounter.WithLabelValues(level, "started").Inc()
	m.ActiveSessions.WithLabelValues(level).Inc()
}

// SessionFinished records a session reaching a terminal state and
// releases its slot in ActiveSessions.
func (m *Metrics) SessionFinished(level, outcome string, durationSeconds float64) {
	m.SessionCounter.WithLabelValues(level, outcome).Inc()
	m.ActiveSessions.WithLabelValues(level).Dec()
	m.SessionDuration.WithLabelValues(level).Observe(durationSeconds)
}

// RecordValidation records one rule's pass/fail outcome for a submitted
// script. ruleCode is empty when the script had no issues at all.
func (m *Metrics) RecordValidation(ruleCode, result string) {
	m.ValidationCounter.WithLabelValues(ruleCode, result).Inc()
}

// RecordToolExecution records metrics for one tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// SetToolCallQueueDepth sets the current count of tool calls awaiting a
// result for sessions at the given level.
func (m *Metrics) SetToolCallQueueDepth(level string, depth int) {
	m.ToolCallQueueDepth.WithLabelValues(level).Set(float64(depth))
}

// RecordEventEmitted increments the emitted-event counter for eventType.
func (m *Metrics) RecordEventEmitted(eventType string) {
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordError increments the error counter for a component/error_type pair.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the broker-wide started-sessions counter.
func (m *Metrics) SessionStarted() {
	m.SessionsStartedTotal.Inc()
}

// ToolCallDispatched increments the broker-wide tool-call counter.
func (m *Metrics) ToolCallDispatched() {
	m.ToolCallsTotal.Inc()
}

// RecordLimitViolation increments the limit-violation counter for the
// wire error code a failed session reported.
func (m *Metrics) RecordLimitViolation(code string) {
	m.LimitViolationsTotal.WithLabelValues(code).Inc()
}

// RecordHTTPRequest records metrics for one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
