package api

import (
	"fmt"
	"net/http"

	ws "github.com/parley-labs/parley-node/internal/api/websocket"
)

// handleWebSocket upgrades the connection and starts a relay session.
// A valid JWT in the token query parameter authenticates the session
// immediately; without one the client must log in over the socket.
func (s *APIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(fmt.Sprintf("WebSocket upgrade failed: %v", err), "api")
		return
	}

	client := ws.NewClient(conn, s.coordinator, s.logger)

	if token != "" {
		claims, err := s.jwtManager.ValidateToken(token)
		if err == nil {
			identity, derr := s.dbManager.Users.Get(claims.UserID)
			if derr == nil {
				client.AttachSession(s.coordinator.Attach(client, identity))
				client.Start()
				return
			}
			s.logger.Warn(fmt.Sprintf("Token user %d no longer exists: %v", claims.UserID, derr), "api")
		} else {
			s.logger.Warn(fmt.Sprintf("WebSocket token rejected: %v", err), "api")
		}
	}

	client.AttachSession(s.coordinator.NewSession(client))
	client.Start()
}
