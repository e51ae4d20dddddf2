package ws

// Presence answers point-in-time online queries over hub state. Under
// concurrent connect/disconnect the answer may be stale by the time the
// caller observes it; callers must treat it as a hint, not a guarantee.
type Presence struct {
	hub *Hub
}

// NewPresence wraps a hub for read-only presence queries.
func NewPresence(hub *Hub) *Presence {
	return &Presence{hub: hub}
}

// IsOnline reports whether the user currently has at least one live connection.
func (p *Presence) IsOnline(userID string) bool {
	return p.hub.IsOnline(userID)
}

// OnlineCount returns the total number of live connections on this instance.
func (p *Presence) OnlineCount() int {
	return p.hub.OnlineCount()
}
