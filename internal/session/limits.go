package session

import (
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// Limits is the session's full resource budget: the preset's
// timeoutMs/maxIterations plus the fields the create-session request can
// override (spec.md §3's `limits` record).
type Limits struct {
	TimeoutMs           int64
	MaxIterations       int64
	MaxToolCalls        int64
	MaxStdoutBytes      int64
	MaxToolResultBytes  int64
	ToolTimeoutMs       int64
	HeartbeatIntervalMs int64
	SessionTTLMs        int64
}

// Default values for the budget fields the preset itself doesn't define.
// The spec names these fields but leaves their numeric defaults to the
// implementation; chosen to be generous enough not to interrupt a normal
// script while still bounding runaway resource use.
const (
	defaultMaxToolCalls        = 100
	defaultMaxStdoutBytes      = 1 << 20   // 1 MiB
	defaultMaxToolResultBytes  = 256 << 10 // 256 KiB
	defaultToolTimeoutMs       = 30_000
	defaultHeartbeatIntervalMs = 15_000 // matches the teacher's own tick interval
	defaultSessionTTLMs        = 300_000
)

// DefaultLimits derives a session's starting Limits from a compiled
// preset.
func DefaultLimits(p preset.Preset) Limits {
	return Limits{
		TimeoutMs:           p.Limits.TimeoutMs,
		MaxIterations:       p.Limits.MaxIterations,
		MaxToolCalls:        defaultMaxToolCalls,
		MaxStdoutBytes:      defaultMaxStdoutBytes,
		MaxToolResultBytes:  defaultMaxToolResultBytes,
		ToolTimeoutMs:       defaultToolTimeoutMs,
		HeartbeatIntervalMs: defaultHeartbeatIntervalMs,
		SessionTTLMs:        defaultSessionTTLMs,
	}
}

// ApplyOverrides returns a copy of l with any non-zero field from req
// substituted in; a client may narrow (or widen) specific budget fields
// at session-creation time.
func (l Limits) ApplyOverrides(req *protocol.CreateSessionLimits) Limits {
	if req == nil {
		return l
	}
	out := l
	if req.SessionTTLMs > 0 {
		out.SessionTTLMs = req.SessionTTLMs
	}
	if req.MaxToolCalls > 0 {
		out.MaxToolCalls = req.MaxToolCalls
	}
	if req.MaxStdoutBytes > 0 {
		out.MaxStdoutBytes = req.MaxStdoutBytes
	}
	if req.MaxToolResultBytes > 0 {
		out.MaxToolResultBytes = req.MaxToolResultBytes
	}
	if req.ToolTimeoutMs > 0 {
		out.ToolTimeoutMs = req.ToolTimeoutMs
	}
	if req.HeartbeatIntervalMs > 0 {
		out.HeartbeatIntervalMs = req.HeartbeatIntervalMs
	}
	return out
}
