// Package ws implements the real-time channel: connection authentication,
// room-based subscription, event fan-out and online presence.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"tradedesk/internal/events"
)

// Hub tracks which live connections belong to which rooms. It is constructed
// explicitly by the composition root and passed by reference to every
// collaborator that publishes or queries presence; there is no package-level
// instance.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// register adds a freshly authenticated connection and auto-joins its
// personal room, its role room and, for admins, the administrative room.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.joinLocked(c, events.UserRoom(c.identity.UserID))
	h.joinLocked(c, events.RoleRoom(c.identity.Role))
	if c.identity.Role == RoleAdmin {
		h.joinLocked(c, events.AdminRoom)
	}
	h.mu.Unlock()

	log.Printf("[WS] connected user=%s role=%s online=%d", c.identity.UserID, c.identity.Role, h.OnlineCount())
}

// unregister removes a connection from the registry and from every room it
// held. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	c.close()
	log.Printf("[WS] disconnected user=%s online=%d", c.identity.UserID, h.OnlineCount())
}

// Join adds the connection to a room. Idempotent.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

// Leave removes the connection from a room. Idempotent.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Members returns a point-in-time snapshot of a room's membership.
func (h *Hub) Members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// OnlineCount returns the total number of live connections.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsOnline reports whether the user's personal room has at least one member.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[events.UserRoom(userID)]) > 0
}

// ToRoom delivers the envelope to every current member of the room.
// Implements events.Sink.
func (h *Hub) ToRoom(room string, msg events.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] marshal %s: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.enqueue(raw)
	}
}

// ToRoomExcept delivers to every member of the room but one (typing relays).
func (h *Hub) ToRoomExcept(room string, except *Client, msg events.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] marshal %s: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c != except {
			c.enqueue(raw)
		}
	}
}

// ToAll delivers the envelope to every live connection. Implements events.Sink.
func (h *Hub) ToAll(msg events.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] marshal %s: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(raw)
	}
}
