// Package channel implements the outbound event emitter, the bidirectional
// transport pair (in-process and NDJSON), and the stream framer a session
// uses to talk to whatever is watching it. Grounded on the teacher's
// WebSocket control-plane session: one goroutine-per-session owning a send
// channel, with seq assigned monotonically as frames go out
// (ws_control_plane.go's wsSession.seq).
package channel

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// Subscriber receives every event an Emitter produces, in order.
type Subscriber func(protocol.Event)

// Emitter builds protocol events for one session and fans them out to any
// number of subscribers. It owns the session's seq counter: seq is
// assigned here, at publish time, not by the caller.
type Emitter struct {
	sessionID string
	seq       atomic.Uint64

	mu          sync.Mutex
	subscribers map[int]Subscriber
	nextSubID   int
	history     []protocol.Event
}

// NewEmitter creates an Emitter for the given session.
func NewEmitter(sessionID string) *Emitter {
	return &Emitter{sessionID: sessionID, subscribers: map[int]Subscriber{}}
}

// Subscribe registers fn to receive every future event. The returned func
// removes the subscription.
func (e *Emitter) Subscribe(fn Subscriber) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// History returns every event emitted so far, for debugging and tests.
// The emitter never replays these on its own.
func (e *Emitter) History() []protocol.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.Event, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Emitter) emit(typ protocol.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	event := protocol.Event{
		ProtocolVersion: protocol.Version,
		SessionID:       e.sessionID,
		Seq:             e.seq.Add(1) - 1,
		Type:            typ,
		Payload:         raw,
	}

	e.mu.Lock()
	e.history = append(e.history, event)
	subs := make([]Subscriber, 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		notify(fn, event)
	}
}

// notify invokes one subscriber, isolating the emitter (and every other
// subscriber) from a panicking observer.
func notify(fn Subscriber, event protocol.Event) {
	defer func() { _ = recover() }()
	fn(event)
}

// EmitSessionInit emits the session's first event.
func (e *Emitter) EmitSessionInit(cancelURL, expiresAt string, encryption protocol.EncryptionInfo, replayURL string) {
	e.emit(protocol.EventSessionInit, protocol.SessionInitPayload{
		CancelURL:  cancelURL,
		ExpiresAt:  expiresAt,
		Encryption: encryption,
		ReplayURL:  replayURL,
	})
}

// EmitStdout emits one chunk of script-produced output.
func (e *Emitter) EmitStdout(chunk string) {
	e.emit(protocol.EventStdout, protocol.StdoutPayload{Chunk: chunk})
}

// EmitLog emits a structured log line from the runtime itself (not the
// script's own console.* output, which is EmitStdout).
func (e *Emitter) EmitLog(level, msg string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	e.emit(protocol.EventLog, protocol.LogPayload{Level: level, Message: msg, Data: raw})
}

// EmitToolCall announces a pending tool call.
func (e *Emitter) EmitToolCall(callID, toolName string, args any) {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = json.RawMessage(`null`)
	}
	e.emit(protocol.EventToolCall, protocol.ToolCallPayload{CallID: callID, ToolName: toolName, Args: raw})
}

// EmitToolResultApplied confirms a submitted tool result resumed the
// session.
func (e *Emitter) EmitToolResultApplied(callID string) {
	e.emit(protocol.EventToolResultApplied, protocol.ToolResultAppliedPayload{CallID: callID})
}

// EmitFinalSuccess emits the session's single terminal success event.
func (e *Emitter) EmitFinalSuccess(result any, stats protocol.FinalStats) {
	e.emit(protocol.EventFinal, protocol.FinalPayload{Ok: true, Result: result, Stats: &stats})
}

// EmitFinalError emits the session's single terminal failure event.
func (e *Emitter) EmitFinalError(errInfo protocol.ErrorInfo, stats protocol.FinalStats) {
	e.emit(protocol.EventFinal, protocol.FinalPayload{Ok: false, Error: &errInfo, Stats: &stats})
}

// EmitHeartbeat emits a liveness tick.
func (e *Emitter) EmitHeartbeat(ts string) {
	e.emit(protocol.EventHeartbeat, protocol.HeartbeatPayload{Ts: ts})
}

// EmitError emits a standalone, non-terminal error notification.
func (e *Emitter) EmitError(code, message string, recoverable bool) {
	e.emit(protocol.EventError, protocol.ErrorPayload{Message: message, Code: code, Recoverable: recoverable})
}
