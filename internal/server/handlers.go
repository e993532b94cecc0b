package server

import (
	"net/http"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// handleWebSocket upgrades a GET request to a WebSocket connection and
// hands the new client to the hub. A valid session cookie binds the
// connection's identity immediately.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	cookieUser := s.sessionUser(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", zap.String("peer", r.RemoteAddr), zap.Error(err))
		return
	}

	id, err := uuid.NewV4()
	if err != nil {
		s.log.Error("connection id", zap.Error(err))
		_ = conn.Close()
		return
	}
	client := newClient(id.String(), conn, s, r.RemoteAddr, cookieUser)
	if !s.hub.join(client) {
		_ = conn.Close()
	}
}

// handleHealth reports liveness together with the connection counts.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.Count(),
		"online":      s.chat.Registry.UserCount(),
	})
}
