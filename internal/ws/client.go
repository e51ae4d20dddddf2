package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Identity is the resolved subject attached to a connection at handshake.
type Identity struct {
	UserID string
	Role   string
	Name   string
}

// Options tunes transport behaviour; zero values fall back to defaults.
type Options struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	SendBuffer       int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Client is one live connection. Its callbacks run one at a time; independent
// connections interleave freely.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity Identity
	opts     Options

	send chan []byte
	once sync.Once

	// rooms currently joined; guarded by hub.mu.
	rooms map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, identity Identity, opts Options) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		identity: identity,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
		rooms:    make(map[string]struct{}),
	}
}

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.identity.UserID }

// Role returns the authenticated role.
func (c *Client) Role() string { return c.identity.Role }

// enqueue hands a pre-marshalled frame to the write pump without blocking the
// publisher; slow consumers lose frames rather than stalling fan-out.
func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		log.Printf("[WS] drop frame for user=%s: send buffer full", c.identity.UserID)
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// readPump consumes client frames until the connection drops, then removes
// the client from every room it held.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error user=%s: %v", c.identity.UserID, err)
			}
			return
		}
		c.handleFrame(raw)
	}
}

// writePump drains the send channel and keeps the connection alive with pings.
func (c *Client) writePump() {
	pingInterval := c.opts.PongWait * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
