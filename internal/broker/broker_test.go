package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentscript/internal/observability"
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/internal/session"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// newTestBroker builds a Broker with throwaway tracer/recorder instances,
// since these tests care about session lifecycle, not observability
// output.
func newTestBroker(maxSessions int) *Broker {
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "broker-test"})
	recorder := observability.NewEventRecorder(observability.NewMemoryEventStore(0), nil)
	return New(maxSessions, tracer, recorder)
}

func echoToolHandler(t *testing.T) session.ToolHandler {
	return func(ctx context.Context, name string, args json.RawMessage) (any, error) {
		switch name {
		case "getUser":
			return map[string]any{"name": "Grace"}, nil
		default:
			t.Fatalf("unexpected tool call: %s", name)
			return nil, nil
		}
	}
}

func waitForFinal(t *testing.T, s *session.Session) protocol.FinalPayload {
	t.Helper()
	final := make(chan protocol.Event, 1)
	s.Emitter().Subscribe(func(e protocol.Event) {
		if e.Type == protocol.EventFinal {
			final <- e
		}
	})
	for i := 0; i < 200; i++ {
		if s.State().Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case e := <-final:
		var payload protocol.FinalPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			t.Fatalf("failed to decode final payload: %v", err)
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session %s to finish, state=%s", s.ID(), s.State())
		return protocol.FinalPayload{}
	}
}

func TestBrokerCreateSessionRunsToCompletion(t *testing.T) {
	b := newTestBroker(0)
	p := preset.NewBuilder(preset.LevelStrict).Build()
	req := protocol.CreateSessionRequest{ProtocolVersion: protocol.Version, Code: "return 1 + 1;"}

	sess, err := b.CreateSession(context.Background(), "s_broker1", req, p, echoToolHandler(t))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	payload := waitForFinal(t, sess)
	if !payload.Ok || payload.Result != float64(2) {
		t.Fatalf("expected ok result 2, got %+v", payload)
	}

	got, ok := b.GetSession("s_broker1")
	if !ok || got != sess {
		t.Fatalf("expected GetSession to return the same session")
	}
}

func TestBrokerDispatchesToolCallsThroughHandler(t *testing.T) {
	b := newTestBroker(0)
	p := preset.NewBuilder(preset.LevelStandard).Build()
	req := protocol.CreateSessionRequest{
		ProtocolVersion: protocol.Version,
		Code: `
			const u = await callTool('getUser', {id: 7});
			return u.name;
		`,
	}

	sess, err := b.CreateSession(context.Background(), "s_broker2", req, p, echoToolHandler(t))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	payload := waitForFinal(t, sess)
	if !payload.Ok || payload.Result != "Grace" {
		t.Fatalf("expected ok result Grace, got %+v", payload)
	}
}

func TestBrokerCreateSessionRejectsInvalidScript(t *testing.T) {
	b := newTestBroker(0)
	p := preset.NewBuilder(preset.LevelStrict).Build()
	req := protocol.CreateSessionRequest{ProtocolVersion: protocol.Version, Code: "while (true) {}"}

	_, err := b.CreateSession(context.Background(), "s_broker3", req, p, echoToolHandler(t))
	if err == nil {
		t.Fatal("expected an unbounded loop to fail validation under the strict preset")
	}
	var verr *ErrValidationFailed
	if !asValidationFailed(err, &verr) {
		t.Fatalf("expected *ErrValidationFailed, got %T: %v", err, err)
	}
	if len(verr.Result.Issues) == 0 {
		t.Fatal("expected at least one validation issue to be reported")
	}
	if _, ok := b.GetSession("s_broker3"); ok {
		t.Fatal("expected a rejected script to never be registered")
	}
}

func asValidationFailed(err error, target **ErrValidationFailed) bool {
	if e, ok := err.(*ErrValidationFailed); ok {
		*target = e
		return true
	}
	return false
}

func TestBrokerEnforcesMaxSessions(t *testing.T) {
	b := newTestBroker(1)
	p := preset.NewBuilder(preset.LevelStrict).Build()

	req1 := protocol.CreateSessionRequest{ProtocolVersion: protocol.Version, Code: "return 1;"}
	sess1, err := b.CreateSession(context.Background(), "s_cap1", req1, p, echoToolHandler(t))
	if err != nil {
		t.Fatalf("first CreateSession failed: %v", err)
	}

	req2 := protocol.CreateSessionRequest{ProtocolVersion: protocol.Version, Code: "return 2;"}
	if _, err := b.CreateSession(context.Background(), "s_cap2", req2, p, echoToolHandler(t)); err != ErrTooManySessions {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}

	waitForFinal(t, sess1)
}

func TestBrokerCreateSessionReplacesColliding(t *testing.T) {
	b := newTestBroker(0)
	p := preset.NewBuilder(preset.LevelStandard).Build()

	req := protocol.CreateSessionRequest{
		ProtocolVersion: protocol.Version,
		Code: `
			const u = await callTool('getUser', {id: 1});
			return u.name;
		`,
	}
	first, err := b.CreateSession(context.Background(), "s_dup", req, p, echoToolHandler(t))
	if err != nil {
		t.Fatalf("first CreateSession failed: %v", err)
	}
	for i := 0; i < 200 && first.State() != session.StateWaitingForTool; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if first.State() != session.StateWaitingForTool {
		t.Fatalf("expected first session to be waiting_for_tool, got %s", first.State())
	}

	simple := protocol.CreateSessionRequest{ProtocolVersion: protocol.Version, Code: "return 5;"}
	second, err := b.CreateSession(context.Background(), "s_dup", simple, p, echoToolHandler(t))
	if err != nil {
		t.Fatalf("second CreateSession failed: %v", err)
	}

	waitForFinal(t, first)
	if first.State() != session.StateCancelled {
		t.Fatalf("expected the replaced session to end up cancelled, got %s", first.State())
	}

	payload := waitForFinal(t, second)
	if !payload.Ok || payload.Result != float64(5) {
		t.Fatalf("expected the replacement session to complete with result 5, got %+v", payload)
	}

	got, ok := b.GetSession("s_dup")
	if !ok || got != second {
		t.Fatalf("expected the registry to now point at the replacement session")
	}
}

func TestBrokerTerminateAndDispose(t *testing.T) {
	b := newTestBroker(0)
	p := preset.NewBuilder(preset.LevelStandard).Build()
	req := protocol.CreateSessionRequest{
		ProtocolVersion: protocol.Version,
		Code: `
			const u = await callTool('getUser', {id: 1});
			return u.name;
		`,
	}

	sess, err := b.CreateSession(context.Background(), "s_term", req, p, echoToolHandler(t))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 200 && sess.State() != session.StateWaitingForTool; i++ {
		time.Sleep(10 * time.Millisecond)
	}

	if !b.TerminateSession("s_term", "shutting down") {
		t.Fatal("expected TerminateSession to find the session")
	}
	if b.TerminateSession("s_missing", "n/a") {
		t.Fatal("expected TerminateSession to report false for an unknown id")
	}

	waitForFinal(t, sess)
	if sess.State() != session.StateCancelled {
		t.Fatalf("expected terminated session to end up cancelled, got %s", sess.State())
	}

	list := b.ListSessions()
	if len(list) != 1 {
		t.Fatalf("expected exactly one registered session, got %d", len(list))
	}

	b.Dispose()
}
