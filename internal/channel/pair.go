package channel

import (
	"encoding/json"

	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// InboundReceiver is the session-side half of a channel pair: whatever
// accepts tool_result_submit/cancel control messages. Session implements
// this; the channel package only depends on the shape, not on the
// session package itself.
type InboundReceiver interface {
	SubmitToolResult(callID string, ok bool, result json.RawMessage, errInfo *protocol.ErrorInfo) error
	Cancel(reason string) error
}

// InProcessPair connects an Emitter directly to an InboundReceiver under
// a single scheduling thread: outbound events are delivered by direct
// function call (via Emitter.Subscribe), and inbound control messages are
// direct method calls with no serialization or queueing. This is the
// transport a broker uses when the client lives in the same process.
type InProcessPair struct {
	emitter  *Emitter
	receiver InboundReceiver
}

// NewInProcessPair wires emitter and receiver into one pair.
func NewInProcessPair(emitter *Emitter, receiver InboundReceiver) *InProcessPair {
	return &InProcessPair{emitter: emitter, receiver: receiver}
}

// Subscribe registers fn for every outbound event, same as calling
// Subscribe on the underlying Emitter directly.
func (p *InProcessPair) Subscribe(fn Subscriber) (unsubscribe func()) {
	return p.emitter.Subscribe(fn)
}

// SubmitToolResult forwards a tool_result_submit control message.
func (p *InProcessPair) SubmitToolResult(callID string, ok bool, result json.RawMessage, errInfo *protocol.ErrorInfo) error {
	return p.receiver.SubmitToolResult(callID, ok, result, errInfo)
}

// Cancel forwards a cancel control message.
func (p *InProcessPair) Cancel(reason string) error {
	return p.receiver.Cancel(reason)
}

// NdjsonPair connects an Emitter's outbound events to an NDJSON byte sink,
// and decodes NDJSON-framed inbound control messages into calls on an
// InboundReceiver.
type NdjsonPair struct {
	emitter  *Emitter
	receiver InboundReceiver
	parser   *NdjsonStreamParser
	onLine   func([]byte)
	onError  func(LineError)
}

// NewNdjsonPair wires emitter and receiver into a byte-stream pair.
// writeLine is called with one serialized NDJSON line (including the
// trailing '\n') per outbound event; onError reports malformed inbound
// lines without stopping the stream.
func NewNdjsonPair(emitter *Emitter, receiver InboundReceiver, writeLine func([]byte), onError func(LineError)) *NdjsonPair {
	p := &NdjsonPair{emitter: emitter, receiver: receiver, onLine: writeLine, onError: onError}
	emitter.Subscribe(func(e protocol.Event) {
		raw, err := SerializeEvent(e)
		if err != nil {
			return
		}
		p.onLine(append(raw, '\n'))
	})
	p.parser = NewNdjsonStreamParser(p.handleInboundLine, onError)
	return p
}

// Feed hands the parser another chunk of inbound bytes.
func (p *NdjsonPair) Feed(chunk []byte) { p.parser.Feed(chunk) }

// Flush processes any trailing unterminated inbound line.
func (p *NdjsonPair) Flush() { p.parser.Flush() }

func (p *NdjsonPair) handleInboundLine(raw json.RawMessage) {
	var probe struct {
		Type protocol.ControlType `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		if p.onError != nil {
			p.onError(LineError{Message: err.Error()})
		}
		return
	}

	switch probe.Type {
	case protocol.ControlToolResultSubmit:
		var msg protocol.ToolResultSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			if p.onError != nil {
				p.onError(LineError{Message: err.Error()})
			}
			return
		}
		if err := p.receiver.SubmitToolResult(msg.CallID, msg.Ok, msg.Result, msg.Error); err != nil && p.onError != nil {
			p.onError(LineError{Message: err.Error()})
		}
	case protocol.ControlCancel:
		var msg protocol.Cancel
		if err := json.Unmarshal(raw, &msg); err != nil {
			if p.onError != nil {
				p.onError(LineError{Message: err.Error()})
			}
			return
		}
		if err := p.receiver.Cancel(msg.Reason); err != nil && p.onError != nil {
			p.onError(LineError{Message: err.Error()})
		}
	default:
		if p.onError != nil {
			p.onError(LineError{Message: "unknown control message type"})
		}
	}
}
