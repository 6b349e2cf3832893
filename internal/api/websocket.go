package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/relayhub/internal/relay"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades a relay connection and hands it to the Hub.
//
// Devices connect without credentials and authenticate with AUTH. A
// dashboard may present a ticket (?ticket=) or an access token (?token=);
// its later AUTH{userId} must then name the same user. A credential that
// fails validation rejects the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	opts := relay.SessionOptions{RemoteAddr: r.RemoteAddr}

	switch q := r.URL.Query(); {
	case q.Get("ticket") != "":
		userID, ok := s.tickets.redeem(q.Get("ticket"))
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		opts.UserID = &userID
	case q.Get("token") != "":
		claims, err := s.tokens.ParseUser(q.Get("token"))
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeUnauthorized(w, "invalid token subject")
			return
		}
		opts.UserID = &userID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	// The request context ends with the hijacked connection's handler, which
	// is exactly the connection's lifetime.
	s.hub.ServeWebSocket(r.Context(), conn, s.transportConfig(), opts)
}

// transportConfig maps configuration onto relay transport limits.
func (s *Server) transportConfig() relay.TransportConfig {
	return relay.TransportConfig{
		SendBuffer:     s.relayCfg.SendBuffer,
		SendTimeout:    time.Duration(s.relayCfg.SendTimeout) * time.Millisecond,
		MaxMessageSize: int64(s.wsCfg.MaxMessageSize),
		PingInterval:   time.Duration(s.wsCfg.PingInterval) * time.Second,
		PongTimeout:    time.Duration(s.wsCfg.PongTimeout) * time.Second,
		WriteTimeout:   time.Duration(s.wsCfg.WriteTimeout) * time.Second,
	}
}
