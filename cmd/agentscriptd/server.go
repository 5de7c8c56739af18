package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentscript/internal/broker"
	"github.com/haasonsaas/agentscript/internal/channel"
	"github.com/haasonsaas/agentscript/internal/config"
	"github.com/haasonsaas/agentscript/internal/ids"
	"github.com/haasonsaas/agentscript/internal/observability"
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// apiServer holds everything the HTTP handlers need: a shared broker, the
// config used to turn security-level names into presets, and the demo
// tool handler newly created sessions dispatch tool_call events to.
type apiServer struct {
	broker   *broker.Broker
	cfg      *config.Config
	logger   *observability.Logger
	upgrader websocket.Upgrader
}

// newAPIServer builds the HTTP handler that fronts b.
func newAPIServer(cfg *config.Config, b *broker.Broker, logger *observability.Logger) http.Handler {
	s := &apiServer{
		broker: b,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/sessions", s.handleSessionsCollection)
	mux.HandleFunc("/v1/sessions/", s.handleSessionsItem)
	return mux
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createSessionRequest struct {
	Code   string                        `json:"code"`
	Level  string                        `json:"level"`
	Limits *protocol.CreateSessionLimits `json:"limits,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}

	level := s.cfg.DefaultLevel()
	if strings.TrimSpace(body.Level) != "" {
		level = preset.Level(strings.ToUpper(strings.TrimSpace(body.Level)))
	}

	sessionID := ids.NewSessionID()
	req := protocol.CreateSessionRequest{
		ProtocolVersion: protocol.Version,
		Code:            body.Code,
		Limits:          body.Limits,
	}

	sess, err := s.broker.CreateSession(r.Context(), sessionID, req, s.cfg.ToPreset(level), demoToolHandler)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID()})
}

func (s *apiServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.broker.ListSessions()
	sessionIDs := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		sessionIDs = append(sessionIDs, sess.ID())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessionIDs})
}

// handleSessionsItem dispatches by the path suffix after /v1/sessions/:
// "{id}/stream" upgrades to WebSocket, "{id}/cancel" terminates, anything
// else fetches the session's current state.
func (s *apiServer) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	switch {
	case strings.HasSuffix(rest, "/stream"):
		s.handleStream(w, r, strings.TrimSuffix(rest, "/stream"))
	case strings.HasSuffix(rest, "/cancel"):
		s.handleCancel(w, r, strings.TrimSuffix(rest, "/cancel"))
	default:
		s.handleGetSession(w, r, rest)
	}
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.broker.GetSession(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID(),
		"state":     sess.State(),
		"stats":     sess.Stats(),
	})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ok := s.broker.TerminateSession(id, "cancelled via API"); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleStream upgrades to a WebSocket and wires it directly to the
// session's emitter and inbound control-message receiver.
// channel.NewWebSocketSession already replays everything the session
// emitted before the upgrade landed, so there's no separate subscribe
// step here.
func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.broker.GetSession(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ctx := observability.AddSessionID(r.Context(), id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	onError := func(le channel.LineError) {
		s.logger.Warn(ctx, "malformed inbound frame", "error", le.Message)
	}
	ws := channel.NewWebSocketSession(sess.Emitter(), sess, conn, onError)

	stop := make(chan struct{})
	go ws.PingLoop(stop)
	defer close(stop)
	defer ws.Close()

	if err := ws.ReadLoop(); err != nil {
		s.logger.Debug(ctx, "websocket read loop ended", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
