package handler

import (
	"net/http"
	"time"

	"pawpool/internal/notification"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler pushes committed pool events to admins over a websocket.
type StreamHandler struct {
	hub          *notification.Hub
	logger       Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewStreamHandler(hub *notification.Hub, log Logger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		pingInterval: streamPingInterval,
	}
}

// Serve upgrades the request and streams events as JSON text frames until
// either side goes away. ?contract_id= limits the feed to one contract.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	var contractID *uuid.UUID
	if v := r.URL.Query().Get("contract_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid contract ID")
			return
		}
		contractID = &id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Pool stream upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	// Clients only send control frames; reading surfaces their close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			if contractID != nil && (e.ContractID == nil || *e.ContractID != *contractID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
