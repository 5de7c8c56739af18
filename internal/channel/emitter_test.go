package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentscript/pkg/protocol"
)

func TestEmitterAssignsMonotonicSeq(t *testing.T) {
	e := NewEmitter("s_test")
	e.EmitStdout("a")
	e.EmitStdout("b")
	e.EmitStdout("c")

	hist := e.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 events, got %d", len(hist))
	}
	for i, ev := range hist {
		if ev.Seq != uint64(i) {
			t.Errorf("expected seq %d, got %d", i, ev.Seq)
		}
		if ev.SessionID != "s_test" {
			t.Errorf("expected sessionId s_test, got %s", ev.SessionID)
		}
	}
}

func TestEmitterSubscriberPanicIsolation(t *testing.T) {
	e := NewEmitter("s_test")
	var mu sync.Mutex
	var seen []string

	e.Subscribe(func(protocol.Event) { panic("boom") })
	e.Subscribe(func(ev protocol.Event) {
		mu.Lock()
		seen = append(seen, string(ev.Type))
		mu.Unlock()
	})

	e.EmitStdout("chunk")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != string(protocol.EventStdout) {
		t.Fatalf("expected the second subscriber to still observe the event, got %v", seen)
	}
}

func TestEmitterUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter("s_test")
	count := 0
	unsubscribe := e.Subscribe(func(protocol.Event) { count++ })
	e.EmitStdout("one")
	unsubscribe()
	e.EmitStdout("two")

	if count != 1 {
		t.Fatalf("expected exactly 1 delivery after unsubscribe, got %d", count)
	}
}

func TestEmitterHistoryIsNotAutoReplayed(t *testing.T) {
	e := NewEmitter("s_test")
	e.EmitStdout("before")

	var delivered int
	e.Subscribe(func(protocol.Event) { delivered++ })
	if delivered != 0 {
		t.Fatalf("expected a fresh subscriber to receive nothing retroactively, got %d", delivered)
	}
	if len(e.History()) != 1 {
		t.Fatalf("expected history to still contain the earlier event")
	}
}

func TestEmitFinalSuccessAndErrorAreDistinctPayloads(t *testing.T) {
	e := NewEmitter("s_test")
	e.EmitFinalSuccess(map[string]any{"ok": true}, protocol.FinalStats{DurationMs: 10})
	e.EmitFinalError(protocol.ErrorInfo{Message: "boom", Code: "RUNTIME_ERROR"}, protocol.FinalStats{DurationMs: 5})

	hist := e.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 final events, got %d", len(hist))
	}
	for _, ev := range hist {
		if ev.Type != protocol.EventFinal {
			t.Errorf("expected EventFinal, got %s", ev.Type)
		}
	}
}

func TestEmitterHistoryIsOrderedAndImmutableSnapshot(t *testing.T) {
	e := NewEmitter("s_test")
	e.EmitStdout("a")
	e.EmitStdout("b")

	first := e.History()
	require.Len(t, first, 2)
	require.Equal(t, uint64(0), first[0].Seq)
	require.Equal(t, uint64(1), first[1].Seq)

	e.EmitStdout("c")
	require.Len(t, first, 2, "snapshot taken before the third emit must not grow")

	second := e.History()
	require.Len(t, second, 3)
	require.Equal(t, uint64(2), second[2].Seq)
}
