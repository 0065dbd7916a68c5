package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"examshield/internal/config"
	"examshield/internal/infrastructure"
)

// Handler upgrades admin requests to the license event stream
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	pongWait time.Duration
}

// NewHandler creates the upgrade handler. Authentication happens in the
// admin middleware in front of it.
func NewHandler(hub *Hub, cfg config.EventsConfig) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pongWait: cfg.PongWait,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response
		h.hub.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(h.hub, WrapConn(conn), infrastructure.GetTraceID(infrastructure.EnsureTraceID(r.Context())), h.pongWait)
	if !h.hub.attach(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
