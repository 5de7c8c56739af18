// Package observability provides metrics, structured logging, and
// distributed tracing for agentscriptd.
//
// # Overview
//
// Three pillars:
//
//  1. Metrics - Prometheus counters/gauges/histograms for session and
//     tool-call activity.
//  2. Logging - structured logs with sensitive data redaction, built on slog.
//  3. Tracing - OpenTelemetry spans across session creation, script
//     validation, and tool dispatch.
//
// # Metrics
//
// Metrics track:
//   - Session lifecycle by security level and outcome
//   - Script validation outcomes by rule code
//   - Tool execution latency and status
//   - Protocol events emitted over the outbound channel
//   - Error rates by component
//   - HTTP API request/response metrics
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.SessionCreated("STANDARD")
//	defer metrics.SessionFinished("STANDARD", "completed", time.Since(start).Seconds())
//
//	start := time.Now()
//	// ... dispatch tool ...
//	metrics.RecordToolExecution("getUser", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with:
//   - Automatic request/session ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "dispatching tool call", "tool", toolName)
//	logger.Error(ctx, "tool call failed", "error", err)
//
// # Tracing
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentscriptd",
//	    ServiceVersion: "1.0.0",
//	    SamplingRate:   1.0,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceSessionCreate(ctx, sessionID, "STANDARD")
//	defer span.End()
//
//	ctx, toolSpan := tracer.TraceToolCall(ctx, sessionID, "getUser", callID)
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context Propagation
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//
//	logger.Info(ctx, "session created") // includes request_id, session_id
//
// # Security Considerations
//
// Logging automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords, secrets, JWT and bearer tokens
//   - Custom patterns via LogConfig.RedactPatterns
//
// Sensitive map keys are also redacted: password, passwd, pwd, secret,
// api_key, apikey, token, auth, authorization, private_key, privatekey.
//
// # Monitoring Dashboard
//
//	# Session throughput
//	rate(agentscript_sessions_total[5m])
//
//	# Tool latency (95th percentile)
//	histogram_quantile(0.95, rate(agentscript_tool_execution_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(agentscript_errors_total[5m])
//
//	# Active sessions
//	agentscript_active_sessions
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
