package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/server/middleware"
	"github.com/scopeline/authd/internal/service"
)

const (
	streamPingInterval      = 30 * time.Second
	streamHeartbeatInterval = 15 * time.Second
	streamWriteTimeout      = 10 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler serves the authenticated event stream. The identity is
// resolved before the upgrade; a failed resolution is answered with the
// standard JSON error and no WebSocket is established.
type StreamHandler struct {
	resolver *service.Resolver
	logger   *slog.Logger
}

func NewStreamHandler(resolver *service.Resolver, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{resolver: resolver, logger: logger}
}

type streamEvent struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

// ServeHTTP upgrades to WebSocket and streams heartbeat events.
// GET /api/v1/stream
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := middleware.ExtractRequest(r)
	// Browser WebSocket clients cannot set headers; accept the key as a
	// query parameter too.
	if req.APIKey == "" {
		req.APIKey = r.URL.Query().Get("api_key")
	}

	ac, authErr := h.resolver.Resolve(r.Context(), req)
	if authErr != nil {
		middleware.WriteAuthError(w, authErr)
		return
	}
	if !ac.Authenticated() {
		middleware.WriteAuthError(w, model.ErrMissingCredential)
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	handshake := model.HandshakeResult{
		Authenticated: true,
		AuthType:      ac.Type,
		UserID:        ac.UserID(),
		OrgID:         ac.OrgID,
		ProjectID:     ac.ProjectID,
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(handshake); err != nil {
		return
	}

	h.logger.Info("stream connected",
		"auth_type", string(ac.Type), "org_id", ac.OrgID)

	// Drain client frames so pong and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case now := <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(streamEvent{Type: "heartbeat", At: now.UTC()}); err != nil {
				return
			}
		}
	}
}
