// Package broker implements component I: the session manager that turns a
// create-session request into a running internal/session.Session, owns the
// registry of in-flight sessions, and wires each session's tool_call
// events to an injected ToolHandler. Grounded on the teacher's in-memory
// registry pattern (internal/gateway/grpc_service.go's agentStore:
// sync.RWMutex guarding a map, Save/Get/List/Delete) and its per-call
// tracing wiring.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/agentscript/internal/observability"
	"github.com/haasonsaas/agentscript/internal/script/ast"
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/internal/script/rewrite"
	"github.com/haasonsaas/agentscript/internal/script/rules"
	"github.com/haasonsaas/agentscript/internal/session"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// ErrTooManySessions is returned by CreateSession once maxSessions
// in-flight sessions already exist.
var ErrTooManySessions = fmt.Errorf("broker: max sessions exceeded")

// ErrValidationFailed is returned when the submitted code fails the
// static guard. The caller can inspect the wrapped rules.ValidationResult
// for the individual issues.
type ErrValidationFailed struct {
	Result rules.ValidationResult
}

func (e *ErrValidationFailed) Error() string {
	return fmt.Sprintf("broker: script failed validation with %d issue(s)", len(e.Result.Issues))
}

// entry is one broker-managed session plus the metadata the registry
// needs but Session itself doesn't track.
type entry struct {
	sess      *session.Session
	createdAt time.Time
}

// Broker owns every in-flight session created through it: it runs the
// parse/validate/rewrite/construct pipeline, enforces maxSessions, and
// replaces a colliding session id rather than erroring.
type Broker struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	maxSessions int

	metrics  *observability.Metrics
	tracer   *observability.Tracer
	recorder *observability.EventRecorder
}

// New creates a Broker that allows at most maxSessions concurrent
// sessions. maxSessions <= 0 means unbounded. tracer and recorder are
// shared process-wide instances; New does not construct its own so that
// every Broker in a process contributes to the same trace provider,
// metric collectors, and event timeline.
func New(maxSessions int, tracer *observability.Tracer, recorder *observability.EventRecorder) *Broker {
	return &Broker{
		sessions:    map[string]*entry{},
		maxSessions: maxSessions,
		metrics:     observability.NewMetrics(),
		tracer:      tracer,
		recorder:    recorder,
	}
}

// CreateSession validates req.Code against p's rule set, rewrites it into
// the sandboxed form, and starts a new Session running it in the
// background. toolHandler is invoked, out of the session's own goroutine,
// for every tool_call the session emits; its result (or error) is fed
// back with SubmitToolResult. If a session is already registered under
// id, it is cancelled first with reason "session replaced" and its own
// pending tool call(s), if any, are abandoned.
func (b *Broker) CreateSession(ctx context.Context, id string, req protocol.CreateSessionRequest, p preset.Preset, toolHandler session.ToolHandler) (*session.Session, error) {
	level := string(p.Level)
	ctx, span := b.tracer.TraceSessionCreate(ctx, id, level)
	defer span.End()
	ctx = observability.AddSessionID(ctx, id)

	if err := b.checkCapacity(id); err != nil {
		b.tracer.RecordError(span, err)
		return nil, err
	}

	tree, err := ast.Parse(ctx, []byte(req.Code))
	if err != nil {
		b.tracer.RecordError(span, err)
		return nil, fmt.Errorf("broker: parse failed: %w", err)
	}

	validation := rules.NewEngine(rules.DefaultRuleSet()).Validate(tree.Root(), tree.Source, p.RuleOpts)
	if !validation.Valid {
		tree.Close()
		for _, issue := range validation.Issues {
			b.metrics.RecordValidation(issue.Code, "fail")
		}
		_ = b.recorder.Record(ctx, observability.EventTypeValidationRejected, "validation_rejected", map[string]any{
			"issue_count": len(validation.Issues),
		})
		span.SetStatus(codes.Error, "validation failed")
		return nil, &ErrValidationFailed{Result: validation}
	}
	b.metrics.RecordValidation("", "pass")

	rewritten, err := rewrite.Rewrite(ctx, tree, p)
	tree.Close()
	if err != nil {
		b.tracer.RecordError(span, err)
		return nil, fmt.Errorf("broker: rewrite failed: %w", err)
	}

	limits := session.DefaultLimits(p).ApplyOverrides(req.Limits)
	sess := session.New(context.Background(), id, p, limits)
	sess.SetRecorder(b.recorder)

	receiver := &toolHandlerReceiver{
		sess:    sess,
		handler: toolHandler,
		tracer:  b.tracer,
		metrics: b.metrics,
		limiter: newToolCallLimiter(limits),
	}
	sess.Emitter().Subscribe(receiver.onEvent)

	b.replaceAndRegister(id, sess)

	b.metrics.SessionCreated(level)
	b.metrics.SessionStarted()
	_ = b.recorder.RecordSessionStart(ctx, id, map[string]any{"level": level})

	var finalCode string
	sess.Emitter().Subscribe(func(e protocol.Event) {
		if e.Type != protocol.EventFinal {
			return
		}
		var payload protocol.FinalPayload
		if err := json.Unmarshal(e.Payload, &payload); err == nil && payload.Error != nil {
			finalCode = payload.Error.Code
		}
	})

	encryption := protocol.EncryptionInfo{Enabled: req.Encryption != nil && req.Encryption.Mode == "required"}
	cancelURL := fmt.Sprintf("/sessions/%s/cancel", id)

	go func() {
		defer b.finishSession(id)
		defer rewritten.Tree.Close()

		runCtx, runSpan := b.tracer.Start(ctx, "session.run", observability.SpanOptions{
			Kind:       trace.SpanKindInternal,
			Attributes: []attribute.KeyValue{attribute.String("session.id", id)},
		})
		defer runSpan.End()

		start := time.Now()
		_ = sess.Start(rewritten.Tree, cancelURL, encryption)
		duration := time.Since(start)

		outcome := sessionOutcome(sess.State())
		b.metrics.SessionFinished(level, outcome, duration.Seconds())
		if isLimitCode(finalCode) {
			b.metrics.RecordLimitViolation(finalCode)
		}

		var endErr error
		if outcome != "completed" {
			endErr = fmt.Errorf("session ended with outcome %q", outcome)
		}
		_ = b.recorder.RecordSessionEnd(runCtx, duration, endErr)
	}()

	return sess, nil
}

// sessionOutcome maps a session's terminal state to the outcome label
// observability.Metrics.SessionFinished expects.
func sessionOutcome(state session.State) string {
	switch state {
	case session.StateCompleted:
		return "completed"
	case session.StateCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// isLimitCode reports whether code is one of the resource-budget wire
// codes spec.md §7 defines, as opposed to a validation, tool, or protocol
// error.
func isLimitCode(code string) bool {
	switch code {
	case "ITERATION_LIMIT", "TOOL_CALL_LIMIT", "STDOUT_LIMIT", "TIMEOUT":
		return true
	default:
		return false
	}
}

func (b *Broker) checkCapacity(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.maxSessions <= 0 {
		return nil
	}
	if _, exists := b.sessions[id]; exists {
		return nil
	}
	if len(b.sessions) >= b.maxSessions {
		return ErrTooManySessions
	}
	return nil
}

func (b *Broker) replaceAndRegister(id string, sess *session.Session) {
	b.mu.Lock()
	prev, existed := b.sessions[id]
	b.sessions[id] = &entry{sess: sess, createdAt: time.Now()}
	b.mu.Unlock()

	if existed {
		_ = prev.sess.Cancel("session replaced")
	}
}

// finishSession removes a terminated session from the registry.
// ActiveSessions is already decremented by Metrics.SessionFinished, called
// just before this from the same goroutine.
func (b *Broker) finishSession(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

// GetSession returns the session registered under id, if any.
func (b *Broker) GetSession(id string) (*session.Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.sessions[id]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// ListSessions returns every currently-registered session.
func (b *Broker) ListSessions() []*session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*session.Session, 0, len(b.sessions))
	for _, e := range b.sessions {
		out = append(out, e.sess)
	}
	return out
}

// TerminateSession cancels the session registered under id. Returns false
// if no such session exists.
func (b *Broker) TerminateSession(id, reason string) bool {
	b.mu.RLock()
	e, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	_ = e.sess.Cancel(reason)
	return true
}

// Dispose cancels every registered session. Intended for process
// shutdown.
func (b *Broker) Dispose() {
	b.mu.RLock()
	entries := make([]*entry, 0, len(b.sessions))
	for _, e := range b.sessions {
		entries = append(entries, e)
	}
	b.mu.RUnlock()
	for _, e := range entries {
		_ = e.sess.Cancel("broker shutting down")
	}
}

// toolHandlerReceiver bridges a session's tool_call events to toolHandler
// and feeds results back in via SubmitToolResult, keeping Session itself
// ignorant of how — or whether — a given tool actually runs.
type toolHandlerReceiver struct {
	sess    *session.Session
	handler session.ToolHandler
	tracer  *observability.Tracer
	metrics *observability.Metrics
	limiter *rate.Limiter
}

// newToolCallLimiter paces one session's tool dispatch from its own
// budget: MaxToolCalls spread evenly across SessionTTLMs gives the
// steady-state rate, with a small burst so a script's first few calls
// don't queue up waiting on a cold bucket. Layers golang.org/x/time/rate
// on top of the teacher's hand-rolled internal/ratelimit.Bucket token
// accounting, which this module doesn't otherwise need.
func newToolCallLimiter(limits session.Limits) *rate.Limiter {
	rps := 5.0
	if limits.MaxToolCalls > 0 && limits.SessionTTLMs > 0 {
		rps = float64(limits.MaxToolCalls) / (float64(limits.SessionTTLMs) / 1000.0)
	}
	if rps <= 0 {
		rps = 5.0
	}
	burst := int(limits.MaxToolCalls)
	if burst <= 0 || burst > 10 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// onEvent is the session's emitter subscriber: every other event type is
// ignored, tool_call triggers an out-of-band dispatch to handler.
func (r *toolHandlerReceiver) onEvent(e protocol.Event) {
	if e.Type != protocol.EventToolCall {
		return
	}
	var payload protocol.ToolCallPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return
	}
	go r.dispatchToolCall(context.Background(), payload.CallID, payload.ToolName, payload.Args)
}

func (r *toolHandlerReceiver) dispatchToolCall(ctx context.Context, callID, toolName string, args json.RawMessage) {
	ctx, span := r.tracer.TraceToolCall(ctx, r.sess.ID(), toolName, callID)
	defer span.End()

	r.metrics.ToolCallDispatched()
	start := time.Now()

	if err := r.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolExecution(toolName, "rate_limited", time.Since(start).Seconds())
		_ = r.sess.SubmitToolResult(callID, false, nil, &protocol.ErrorInfo{Message: "tool call rate limit wait aborted: " + err.Error(), Code: "TOOL_ERROR"})
		return
	}

	result, err := r.handler(ctx, toolName, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolExecution(toolName, "error", time.Since(start).Seconds())
		_ = r.sess.SubmitToolResult(callID, false, nil, &protocol.ErrorInfo{Message: err.Error(), Code: "TOOL_ERROR"})
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolExecution(toolName, "error", time.Since(start).Seconds())
		_ = r.sess.SubmitToolResult(callID, false, nil, &protocol.ErrorInfo{Message: err.Error(), Code: "TOOL_ERROR"})
		return
	}
	r.metrics.RecordToolExecution(toolName, "ok", time.Since(start).Seconds())
	_ = r.sess.SubmitToolResult(callID, true, raw, nil)
}
