package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Timing and size limits for a WebSocket-backed NDJSON channel, grounded
// on the teacher's ws_control_plane.go (wsWriteWait/wsPongWait/wsTickInterval
// and a 1MB payload ceiling).
const (
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 45 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
	wsMaxMessageBytes = 1 << 20
)

// WebSocketSession wires an NdjsonPair to a *websocket.Conn: outbound
// events become one text frame per line, inbound text frames are fed to
// the pair's NDJSON parser. gorilla/websocket forbids concurrent writers
// on one connection, so all writes (events and pings) share writeMu.
type WebSocketSession struct {
	conn    *websocket.Conn
	pair    *NdjsonPair
	writeMu sync.Mutex
}

// NewWebSocketSession upgrades emitter/receiver into a network-facing
// NDJSON channel over conn. onError reports malformed inbound frames
// without closing the connection.
//
// A connection is commonly attached after the session has already been
// started (the broker's execution goroutine runs as soon as
// CreateSession returns, before a server handler has a chance to accept
// a WebSocket upgrade), so emitter.History() is replayed over the wire
// before subscribing to live events. Every line carries its event's seq,
// so a dedup set sent by seq keeps the race between "finish replaying
// history" and "the live subscription starts" from double-delivering an
// event to the client.
func NewWebSocketSession(emitter *Emitter, receiver InboundReceiver, conn *websocket.Conn, onError func(LineError)) *WebSocketSession {
	s := &WebSocketSession{conn: conn}

	var dedupMu sync.Mutex
	sent := make(map[uint64]bool)
	dedupWrite := func(line []byte) {
		var probe struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal(line, &probe); err == nil {
			dedupMu.Lock()
			if sent[probe.Seq] {
				dedupMu.Unlock()
				return
			}
			sent[probe.Seq] = true
			dedupMu.Unlock()
		}
		s.writeLine(line)
	}

	for _, e := range emitter.History() {
		if raw, err := SerializeEvent(e); err == nil {
			dedupWrite(append(raw, '\n'))
		}
	}

	s.pair = NewNdjsonPair(emitter, receiver, dedupWrite, onError)

	conn.SetReadLimit(wsMaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	return s
}

func (s *WebSocketSession) writeLine(line []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = s.conn.WriteMessage(websocket.TextMessage, line)
}

// ReadLoop blocks reading inbound frames and feeding them to the NDJSON
// parser until the connection errors or closes. Run it in its own
// goroutine; it returns the terminal read error (io.EOF on a clean close
// is reported as a *websocket.CloseError by gorilla/websocket).
func (s *WebSocketSession) ReadLoop() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.pair.Feed(data)
		s.pair.Feed([]byte("\n"))
	}
}

// PingLoop sends periodic pings to keep intermediate proxies from
// reaping an idle connection, until stop is closed or a write fails.
func (s *WebSocketSession) PingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// Close closes the underlying connection.
func (s *WebSocketSession) Close() error {
	return s.conn.Close()
}
