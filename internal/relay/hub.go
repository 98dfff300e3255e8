package relay

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub manages active event-channel connections keyed by party ID and
// provides helper methods to broadcast events to one or more parties.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for the given party.
func (h *Hub) Register(partyID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[partyID] == nil {
		h.conns[partyID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[partyID][conn] = struct{}{}
}

// Unregister removes a connection for the given party.
func (h *Hub) Unregister(partyID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[partyID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, partyID)
		}
	}
}

// BroadcastToParties sends the payload to all active connections of the
// given parties. Connections that fail to write are closed.
func (h *Hub) BroadcastToParties(partyIDs []string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, pid := range partyIDs {
		conns, ok := h.conns[pid]
		if !ok {
			continue
		}
		for conn := range conns {
			if err := conn.WriteJSON(payload); err != nil {
				conn.Close()
				// actual removal is best-effort; a stale conn may linger
			}
		}
	}
}

// BroadcastAll sends the payload to every connected party.
func (h *Hub) BroadcastAll(payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.conns {
		for conn := range conns {
			if err := conn.WriteJSON(payload); err != nil {
				conn.Close()
			}
		}
	}
}
