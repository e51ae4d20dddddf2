package ws

import (
	"encoding/json"
	"strings"
	"time"

	"tradedesk/internal/events"
)

// Roles understood by the room layer.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Client-initiated operation names.
const (
	opJoinRoom            = "join:room"
	opLeaveRoom           = "leave:room"
	opSubscribeTrades     = "subscribe:trades"
	opSubscribeStrategies = "subscribe:strategies"
	opSubscribeWallet     = "subscribe:wallet"
	opSubscribeDashboard  = "subscribe:dashboard"
	opSubscribeSupport    = "subscribe:support"
	opSupportTyping       = "support:typing"
	opPing                = "ping"
)

type inboundFrame struct {
	Type string `json:"type"`
	Data struct {
		RoomID   string `json:"roomId"`
		TicketID string `json:"ticketId"`
	} `json:"data"`
}

func (c *Client) reply(kind events.Kind, payload any) {
	raw, err := json.Marshal(events.Message{Type: kind, Data: payload})
	if err != nil {
		return
	}
	c.enqueue(raw)
}

func (c *Client) replyError(message string) {
	raw, err := json.Marshal(events.Message{Type: "error", Data: map[string]string{"message": message}})
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// handleFrame dispatches one client operation. Unknown operations are
// rejected at the boundary instead of silently ignored.
func (c *Client) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.replyError("malformed frame")
		return
	}

	switch frame.Type {
	case opPing:
		c.reply(events.KindPong, map[string]any{"timestamp": time.Now().UTC()})

	case opJoinRoom:
		room := frame.Data.RoomID
		if room == "" {
			c.replyError("roomId is required")
			return
		}
		if !c.canJoin(room) {
			c.replyError("not allowed to join " + room)
			return
		}
		c.hub.Join(c, room)

	case opLeaveRoom:
		if frame.Data.RoomID == "" {
			c.replyError("roomId is required")
			return
		}
		c.hub.Leave(c, frame.Data.RoomID)

	case opSubscribeTrades:
		c.subscribeChannel(events.TradesRoom(c.identity.UserID))
	case opSubscribeStrategies:
		c.subscribeChannel(events.StrategyRoom(c.identity.UserID))
	case opSubscribeWallet:
		c.subscribeChannel(events.WalletRoom(c.identity.UserID))
	case opSubscribeDashboard:
		c.subscribeChannel(events.DashboardRoom(c.identity.UserID))

	case opSubscribeSupport:
		if frame.Data.TicketID == "" {
			c.replyError("ticketId is required")
			return
		}
		room := events.TicketRoom(frame.Data.TicketID)
		c.hub.Join(c, room)
		c.reply(events.KindSubscribed, map[string]string{
			"channel":  room,
			"ticketId": frame.Data.TicketID,
		})

	case opSupportTyping:
		if frame.Data.TicketID == "" {
			c.replyError("ticketId is required")
			return
		}
		c.hub.ToRoomExcept(events.TicketRoom(frame.Data.TicketID), c, events.Message{
			Type: events.KindUserTyping,
			Data: map[string]string{
				"userId":   c.identity.UserID,
				"userName": c.identity.Name,
				"ticketId": frame.Data.TicketID,
			},
		})

	default:
		c.replyError("unknown operation: " + frame.Type)
	}
}

func (c *Client) subscribeChannel(room string) {
	c.hub.Join(c, room)
	c.reply(events.KindSubscribed, map[string]string{"channel": room})
}

// canJoin gates ad hoc room joins: users may join their own rooms and any
// ticket room; role and administrative rooms require the matching privilege.
func (c *Client) canJoin(room string) bool {
	if c.identity.Role == RoleAdmin {
		return true
	}
	switch {
	case room == events.AdminRoom:
		return false
	case strings.HasPrefix(room, "user:"):
		return room == events.UserRoom(c.identity.UserID)
	case strings.HasPrefix(room, "role:"):
		return room == events.RoleRoom(c.identity.Role)
	case strings.HasPrefix(room, "trades:"):
		return room == events.TradesRoom(c.identity.UserID)
	case strings.HasPrefix(room, "strategies:"):
		return room == events.StrategyRoom(c.identity.UserID)
	case strings.HasPrefix(room, "wallet:"):
		return room == events.WalletRoom(c.identity.UserID)
	case strings.HasPrefix(room, "dashboard:"):
		return room == events.DashboardRoom(c.identity.UserID)
	case strings.HasPrefix(room, "ticket:"):
		return true
	default:
		return false
	}
}
