// Package session implements the per-script execution lifecycle: the state
// machine, the resource budget it is run against, and the saferuntime.Host
// a rewritten script's __safe_* primitives call into. Grounded on the
// teacher's WebSocket control-plane session (internal/gateway/ws_control_plane.go):
// one goroutine owns the run, a context carries cancellation, and outbound
// frames go out over a channel-backed emitter.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/agentscript/internal/channel"
	"github.com/haasonsaas/agentscript/internal/evaluator"
	"github.com/haasonsaas/agentscript/internal/ids"
	"github.com/haasonsaas/agentscript/internal/observability"
	"github.com/haasonsaas/agentscript/internal/saferuntime"
	"github.com/haasonsaas/agentscript/internal/script/ast"
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// ToolHandler actually executes a named tool call and returns its result
// as a JSON-marshalable value, or an error if the tool itself failed.
// Session never holds one directly: the broker subscribes to a session's
// tool_call events, invokes a ToolHandler out of process, and feeds the
// outcome back in through SubmitToolResult.
type ToolHandler func(ctx context.Context, name string, args json.RawMessage) (any, error)

// Stats is the resource-usage summary tracked for the life of a session
// and surfaced on EventFinal.
type Stats struct {
	StartMs        int64
	EndMs          *int64
	ToolCallCount  int64
	IterationCount int64
	StdoutBytes    int64
}

// pendingCall is one in-flight tool invocation awaiting a
// tool_result_submit. The spec's data model shows a single optional
// `pendingToolCall`, but __safe_parallel can have several calls in flight
// concurrently; internally these are tracked in a map keyed by callId, with
// the running/waiting_for_tool transition driven by the map's emptiness
// rather than by a single slot. See DESIGN.md.
type pendingCall struct {
	callID    string
	toolName  string
	createdAt time.Time
	resultCh  chan toolResolution
}

type toolResolution struct {
	value evaluator.Value
	err   error
}

// Session runs one rewritten script to completion, enforcing its budget
// and exposing the saferuntime.Host the __safe_* primitives call into.
type Session struct {
	id     string
	preset preset.Preset
	clock  *ids.Clock

	mu      sync.Mutex
	state   State
	stats   Stats
	pending map[string]*pendingCall

	limits      Limits
	abort       atomic.Bool
	abortMu     sync.Mutex
	abortReason string

	emitter *channel.Emitter
	ctx     context.Context
	cancel  context.CancelFunc

	ttlTimer      *time.Timer
	ttlExpired    atomic.Bool
	heartbeatStop chan struct{}

	transitionHandlers []func(from, to State)

	// recorder is the safe runtime's event timeline sink. Nil unless
	// SetRecorder is called, in which case every __safe_* invocation the
	// host dispatches is additionally recorded there for replay
	// independent of the wire protocol.
	recorder *observability.EventRecorder
}

// SetRecorder attaches an event recorder that the session's host adapter
// logs every tool call and stdout write through. Must be called before
// Start; a nil recorder (the default) disables this logging entirely.
func (s *Session) SetRecorder(r *observability.EventRecorder) {
	s.recorder = r
}

// New constructs a Session in StateStarting. The caller still must call
// Start to actually run the rewritten program.
func New(parent context.Context, id string, p preset.Preset, limits Limits) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:      id,
		preset:  p,
		clock:   ids.NewClock(),
		state:   StateStarting,
		pending: map[string]*pendingCall{},
		limits:  limits,
		emitter: channel.NewEmitter(id),
		ctx:     ctx,
		cancel:  cancel,
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Emitter exposes the session's outbound event stream.
func (s *Session) Emitter() *channel.Emitter { return s.emitter }

// OnTransition registers fn to be invoked, in registration order, whenever
// the state machine moves. A handler's own panic is swallowed so one
// observer's bug cannot corrupt the transition it is merely watching.
func (s *Session) OnTransition(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionHandlers = append(s.transitionHandlers, fn)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session's resource usage so far.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// transitionTo moves the state machine to to, invoking registered handlers.
// Called with s.mu held.
func (s *Session) transitionTo(to State) error {
	from := s.state
	if err := checkTransition(from, to); err != nil {
		return err
	}
	s.state = to
	handlers := append([]func(from, to State){}, s.transitionHandlers...)
	go func() {
		for _, h := range handlers {
			notifyTransition(h, from, to)
		}
	}()
	return nil
}

func notifyTransition(fn func(from, to State), from, to State) {
	defer func() { _ = recover() }()
	fn(from, to)
}

// Start begins executing tree's rewritten program. It blocks until the
// program finishes, fails, or is cancelled, and always emits exactly one
// EventFinal before returning.
func (s *Session) Start(tree *ast.Tree, cancelURL string, encryption protocol.EncryptionInfo) error {
	s.mu.Lock()
	s.stats.StartMs = s.clock.ElapsedMs()
	if err := s.transitionTo(StateRunning); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	expiresAt := ids.ISO8601(s.clock.Now().Add(time.Duration(s.limits.SessionTTLMs) * time.Millisecond))
	s.emitter.EmitSessionInit(cancelURL, expiresAt, encryption, "")

	s.armTTL()
	s.armHeartbeat()
	defer s.disarmTimers()

	interp := evaluator.New(s.ctx)
	interp.OnStep = s.onIteration

	globals := saferuntime.BuildGlobals(s.ctx, s.preset, (*hostAdapter)(s))

	result, err := interp.Run(tree, globals)

	s.mu.Lock()
	end := s.clock.ElapsedMs()
	s.stats.EndMs = &end
	finalStats := protocol.FinalStats{
		DurationMs:    end - s.stats.StartMs,
		ToolCallCount: s.stats.ToolCallCount,
		StdoutBytes:   s.stats.StdoutBytes,
	}
	s.mu.Unlock()

	if err != nil {
		return s.finishWithError(err, finalStats)
	}
	return s.finishWithSuccess(result, finalStats)
}

func (s *Session) finishWithSuccess(result evaluator.Value, stats protocol.FinalStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return nil
	}
	if err := s.transitionTo(StateCompleted); err != nil {
		return err
	}
	s.emitter.EmitFinalSuccess(evaluator.ToJSONLike(evaluator.Sanitize(result, 0)), stats)
	return nil
}

func (s *Session) finishWithError(err error, stats protocol.FinalStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return nil
	}

	to := StateFailed
	code := "RUNTIME_ERROR"
	message := err.Error()

	switch e := err.(type) {
	case *evaluator.ThrownValue:
		message = e.Error()
		code = "EXECUTION_ERROR"
	case *limitError:
		code = e.code
	default:
		switch {
		case s.ctx.Err() != nil:
			to = StateCancelled
			code = "SESSION_CANCELLED"
			if s.ttlExpired.Load() {
				code = "TTL_EXPIRED"
			}
			s.abortMu.Lock()
			if s.abortReason != "" {
				message = s.abortReason
			}
			s.abortMu.Unlock()
		case err == errToolTimeout:
			code = "TOOL_TIMEOUT"
		}
	}

	if tErr := s.transitionTo(to); tErr != nil {
		return tErr
	}
	s.emitter.EmitFinalError(protocol.ErrorInfo{Message: message, Code: code}, stats)
	return nil
}

// Cancel requests early termination. It is idempotent: cancelling an
// already-terminal or already-cancelling session is a silent no-op.
func (s *Session) Cancel(reason string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.abortMu.Lock()
	if s.abortReason == "" {
		s.abortReason = reason
	}
	s.abortMu.Unlock()
	s.abort.Store(true)

	for _, p := range s.snapshotPending() {
		s.dropPending(p.callID, toolResolution{err: context.Canceled})
	}

	s.cancel()
	return nil
}

// SubmitToolResult implements channel.InboundReceiver: it resolves the
// pending tool call identified by callID, or is silently ignored if the
// session is terminal or callID doesn't match a pending call (the spec
// requires mismatches never resume the script).
func (s *Session) SubmitToolResult(callID string, ok bool, result json.RawMessage, errInfo *protocol.ErrorInfo) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	p, found := s.pending[callID]
	if !found {
		s.mu.Unlock()
		return nil
	}
	delete(s.pending, callID)
	stillPending := len(s.pending) > 0
	s.mu.Unlock()

	var resolved evaluator.Value
	if ok {
		var decoded any
		if len(result) > 0 {
			if err := json.Unmarshal(result, &decoded); err != nil {
				decoded = nil
			}
		}
		resolved = evaluator.Sanitize(decoded, 0)
	} else {
		errObj := evaluator.NewObject()
		errObj.Set("__error", true)
		if errInfo != nil {
			errObj.Set("code", errInfo.Code)
			errObj.Set("message", errInfo.Message)
		} else {
			errObj.Set("code", "TOOL_ERROR")
			errObj.Set("message", "tool reported failure")
		}
		resolved = errObj
	}

	select {
	case p.resultCh <- toolResolution{value: resolved}:
	default:
	}

	s.emitter.EmitToolResultApplied(callID)

	if !stillPending {
		s.mu.Lock()
		if s.state == StateWaitingForTool {
			_ = s.transitionTo(StateRunning)
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) snapshotPending() []*pendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*pendingCall, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// dropPending removes callID from the pending set and pushes res to any
// goroutine still blocked on it, without emitting tool_result_applied:
// nothing was actually externally applied, this is cleanup for a timeout
// or cancellation.
func (s *Session) dropPending(callID string, res toolResolution) {
	s.mu.Lock()
	p, found := s.pending[callID]
	if found {
		delete(s.pending, callID)
	}
	stillPending := len(s.pending) > 0
	if found && !stillPending && s.state == StateWaitingForTool {
		_ = s.transitionTo(StateRunning)
	}
	s.mu.Unlock()

	if !found {
		return
	}
	select {
	case p.resultCh <- res:
	default:
	}
}

func (s *Session) onIteration() error {
	if s.abort.Load() {
		return context.Canceled
	}
	s.mu.Lock()
	s.stats.IterationCount++
	exceeded := s.limits.MaxIterations > 0 && s.stats.IterationCount > s.limits.MaxIterations
	s.mu.Unlock()
	if exceeded {
		return errIterationLimit
	}
	return nil
}

func (s *Session) armTTL() {
	if s.limits.SessionTTLMs <= 0 {
		return
	}
	s.ttlTimer = time.AfterFunc(time.Duration(s.limits.SessionTTLMs)*time.Millisecond, func() {
		s.ttlExpired.Store(true)
		_ = s.Cancel("session ttl exceeded")
	})
}

func (s *Session) armHeartbeat() {
	if s.limits.HeartbeatIntervalMs <= 0 {
		return
	}
	s.heartbeatStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(s.limits.HeartbeatIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.emitter.EmitHeartbeat(ids.ISO8601(s.clock.Now()))
			case <-s.heartbeatStop:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) disarmTimers() {
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
	}
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
	}
}

// limitError carries the specific wire sub-code for a resource-budget
// violation (spec.md §7's ITERATION_LIMIT/TOOL_CALL_LIMIT/STDOUT_LIMIT),
// so finishWithError can report exactly which budget was exceeded
// instead of collapsing them into one generic code.
type limitError struct{ code string }

func (e *limitError) Error() string { return "session: resource limit exceeded: " + e.code }

var (
	errIterationLimit = &limitError{code: "ITERATION_LIMIT"}
	errToolCallLimit  = &limitError{code: "TOOL_CALL_LIMIT"}
	errStdoutLimit    = &limitError{code: "STDOUT_LIMIT"}
	errToolTimeout    = fmt.Errorf("session: tool call timed out")
)
