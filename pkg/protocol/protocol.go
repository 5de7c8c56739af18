// Package protocol defines the wire types exchanged between a running
// script session, the broker that owns it, and the client watching it:
// the outbound event envelope and its nine payload shapes, the two
// inbound control messages, and the create-session request. It also
// compiles and exposes JSON Schema validators for each shape, grounded
// on the same schema-per-method pattern the teacher's WebSocket gateway
// uses for its control plane.
package protocol

import "encoding/json"

// Version is the only protocol version this build understands. Receivers
// reject any message carrying a different value.
const Version = 1

// EventType enumerates the nine outbound event payload shapes.
type EventType string

const (
	EventSessionInit       EventType = "session_init"
	EventStdout            EventType = "stdout"
	EventLog               EventType = "log"
	EventToolCall          EventType = "tool_call"
	EventToolResultApplied EventType = "tool_result_applied"
	EventFinal             EventType = "final"
	EventHeartbeat         EventType = "heartbeat"
	EventError             EventType = "error"
	EventEncrypted         EventType = "enc"
)

// Event is the shared envelope every outbound message carries.
type Event struct {
	ProtocolVersion int             `json:"protocolVersion"`
	SessionID       string          `json:"sessionId"`
	Seq             uint64          `json:"seq"`
	Type            EventType       `json:"type"`
	Payload         json.RawMessage `json:"payload"`
}

// SessionInitPayload is EventSessionInit's payload.
type SessionInitPayload struct {
	CancelURL  string         `json:"cancelUrl"`
	ExpiresAt  string         `json:"expiresAt"`
	Encryption EncryptionInfo `json:"encryption"`
	ReplayURL  string         `json:"replayUrl,omitempty"`
}

// EncryptionInfo describes whether transport encryption is active.
type EncryptionInfo struct {
	Enabled bool   `json:"enabled"`
	KeyID   string `json:"keyId,omitempty"`
}

// StdoutPayload is EventStdout's payload.
type StdoutPayload struct {
	Chunk string `json:"chunk"`
}

// LogPayload is EventLog's payload.
type LogPayload struct {
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolCallPayload is EventToolCall's payload.
type ToolCallPayload struct {
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args"`
}

// ToolResultAppliedPayload is EventToolResultApplied's payload.
type ToolResultAppliedPayload struct {
	CallID string `json:"callId"`
}

// ErrorInfo describes a terminal or recoverable error.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// FinalStats is the resource usage summary attached to EventFinal.
type FinalStats struct {
	DurationMs    int64 `json:"durationMs"`
	ToolCallCount int64 `json:"toolCallCount"`
	StdoutBytes   int64 `json:"stdoutBytes"`
}

// FinalPayload is EventFinal's payload: the session's single terminal
// outcome.
type FinalPayload struct {
	Ok     bool        `json:"ok"`
	Result any         `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
	Stats  *FinalStats `json:"stats,omitempty"`
}

// HeartbeatPayload is EventHeartbeat's payload.
type HeartbeatPayload struct {
	Ts string `json:"ts"`
}

// ErrorPayload is EventError's payload: a standalone, non-terminal error
// notification (as opposed to FinalPayload.Error, which ends the session).
type ErrorPayload struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// EncryptedPayload is EventEncrypted's payload: an opaque, sealed wrapper
// around one of the other payload shapes.
type EncryptedPayload struct {
	KID        string `json:"kid"`
	NonceB64   string `json:"nonceB64"`
	Ciphertext string `json:"ciphertextB64"`
	TagB64     string `json:"tagB64,omitempty"`
}

// ControlType discriminates the two inbound control message shapes.
type ControlType string

const (
	ControlToolResultSubmit ControlType = "tool_result_submit"
	ControlCancel           ControlType = "cancel"
)

// ToolResultSubmit is the inbound control message that resolves a
// session's pendingToolCall.
type ToolResultSubmit struct {
	ProtocolVersion int             `json:"protocolVersion"`
	Type            ControlType     `json:"type"`
	CallID          string          `json:"callId"`
	Ok              bool            `json:"ok"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *ErrorInfo      `json:"error,omitempty"`
}

// Cancel is the inbound control message that requests early termination.
type Cancel struct {
	ProtocolVersion int         `json:"protocolVersion"`
	Type            ControlType `json:"type"`
	Reason          string      `json:"reason,omitempty"`
}

// CreateSessionLimits is the optional, partial limits override a client
// may supply on session creation; zero fields keep the preset's default.
type CreateSessionLimits struct {
	SessionTTLMs        int64 `json:"sessionTtlMs,omitempty"`
	MaxToolCalls        int64 `json:"maxToolCalls,omitempty"`
	MaxStdoutBytes      int64 `json:"maxStdoutBytes,omitempty"`
	MaxToolResultBytes  int64 `json:"maxToolResultBytes,omitempty"`
	ToolTimeoutMs       int64 `json:"toolTimeoutMs,omitempty"`
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs,omitempty"`
}

// CreateSessionEncryption is the optional encryption negotiation block.
type CreateSessionEncryption struct {
	Mode        string          `json:"mode"`
	ClientHello json.RawMessage `json:"clientHello,omitempty"`
}

// CreateSessionRequest is the client → broker request that starts a
// session.
type CreateSessionRequest struct {
	ProtocolVersion int                      `json:"protocolVersion"`
	Code            string                   `json:"code"`
	Limits          *CreateSessionLimits     `json:"limits,omitempty"`
	Encryption      *CreateSessionEncryption `json:"encryption,omitempty"`
}
