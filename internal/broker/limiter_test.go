package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentscript/internal/session"
)

func TestNewToolCallLimiterPacesFromBudget(t *testing.T) {
	limits := session.Limits{MaxToolCalls: 10, SessionTTLMs: 2000}
	l := newToolCallLimiter(limits)

	require.Equal(t, 5.0, float64(l.Limit()), "expected rate 5/s (10 calls / 2s)")
	require.Equal(t, 10, l.Burst())
}

func TestNewToolCallLimiterFallsBackWhenBudgetMissing(t *testing.T) {
	l := newToolCallLimiter(session.Limits{})

	require.Equal(t, 5.0, float64(l.Limit()), "expected fallback rate 5/s")
	require.Equal(t, 10, l.Burst())
}

func TestNewToolCallLimiterClampsLargeBurst(t *testing.T) {
	limits := session.Limits{MaxToolCalls: 100000, SessionTTLMs: 60000}
	l := newToolCallLimiter(limits)

	require.Equal(t, 10, l.Burst(), "expected burst clamped to 10")
}
