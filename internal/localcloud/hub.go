package localcloud

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventType names a change on a todo
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one change notification pushed to observers
type Event struct {
	Type EventType `json:"type"`
	Todo Todo      `json:"todo"`
}

// Hub tracks websocket observers per user and fans events out to them.
// Writes are serialized under the mutex; a failed write drops the
// connection rather than blocking the sender.
type Hub struct {
	log zerolog.Logger

	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty observer registry
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log.With().Str("component", "hub").Logger(),
		conns: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register adds an observer connection for a user
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]bool)
	}
	h.conns[userID][conn] = true
}

// Unregister removes and closes an observer connection
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(userID, conn)
}

// Broadcast sends an event to every observer of the given user
func (h *Hub) Broadcast(userID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns[userID] {
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID).Msg("Dropping dead observer")
			h.dropLocked(userID, conn)
		}
	}
}

// CloseAll sends a close frame to every observer and clears the registry
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.conns {
		for conn := range conns {
			message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteMessage(websocket.CloseMessage, message)
			_ = conn.Close()
		}
		delete(h.conns, userID)
	}
}

func (h *Hub) dropLocked(userID string, conn *websocket.Conn) {
	if conns, ok := h.conns[userID]; ok {
		if conns[conn] {
			delete(conns, conn)
			_ = conn.Close()
		}
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}
