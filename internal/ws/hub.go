package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-directory/internal/eventbus"
	"chat-directory/internal/models"
	"chat-directory/internal/observability"
)

// Hub tracks the live websocket connections per user and delivers directory
// events to the users each event targets.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*websocket.Conn]ConnInfo
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[int64]map[*websocket.Conn]ConnInfo),
	}
}

// AddClient registers a user's websocket connection.
func (h *Hub) AddClient(uid int64, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[uid]; !ok {
		h.conns[uid] = make(map[*websocket.Conn]ConnInfo)
	}
	h.conns[uid][conn] = info
}

// RemoveClient removes a user's websocket connection.
func (h *Hub) RemoveClient(uid int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.conns[uid]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, uid)
		}
	}
}

// Run consumes the bus subscription until it is closed. Intended to run as
// a goroutine owned by main.
func (h *Hub) Run(sub *eventbus.Subscriber) {
	for event := range sub.Events() {
		h.Deliver(event)
	}
}

// Deliver writes the event to every connection of every targeted user. A
// failed write closes that connection; delivery to the rest continues.
func (h *Hub) Deliver(event models.DirectoryEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	for _, uid := range event.Targets {
		for conn, info := range h.userConns(uid) {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error: %v", err)
				conn.Close()
				h.RemoveClient(uid, conn)
				h.publishWSError(info, err)
			}
		}
	}
}

func (h *Hub) userConns(uid int64) map[*websocket.Conn]ConnInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.conns[uid]
	if !ok {
		return nil
	}
	out := make(map[*websocket.Conn]ConnInfo, len(conns))
	for conn, info := range conns {
		out[conn] = info
	}
	return out
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), eventsRoutingKey,
		observability.NewEnvelope("ws_events", "ws_error", payload), headers)
	observability.IncWSEvent("ws_error")
}
