package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentscript/pkg/protocol"
)

func startEchoSocket(t *testing.T, recv InboundReceiver) (*websocket.Conn, func()) {
	t.Helper()
	var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		emitter := NewEmitter("s_ws")
		sess := NewWebSocketSession(emitter, recv, conn, nil)
		go sess.ReadLoop()
		emitter.EmitStdout("hello over the wire")
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestWebSocketSessionDeliversOutboundEvent(t *testing.T) {
	recv := &recordingReceiver{}
	conn, cleanup := startEchoSocket(t, recv)
	defer cleanup()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var evt protocol.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if evt.Type != protocol.EventStdout {
		t.Fatalf("expected stdout event, got %s", evt.Type)
	}
}

func TestWebSocketSessionRoutesInboundControlMessage(t *testing.T) {
	recv := &recordingReceiver{}
	conn, cleanup := startEchoSocket(t, recv)
	defer cleanup()

	// Drain the server's initial stdout event before sending inbound.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	submit, _ := json.Marshal(protocol.ToolResultSubmit{
		ProtocolVersion: protocol.Version,
		Type:            protocol.ControlToolResultSubmit,
		CallID:          "c_ws",
		Ok:              true,
	})
	if err := conn.WriteMessage(websocket.TextMessage, submit); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(recv.submitted) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(recv.submitted) != 1 || recv.submitted[0] != "c_ws" {
		t.Fatalf("expected tool_result_submit to be routed, got %v", recv.submitted)
	}
}
