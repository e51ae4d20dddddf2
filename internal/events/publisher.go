package events

import (
	"log"
	"sync"
	"time"
)

// Sink delivers envelopes to the live connections of a room. The websocket
// hub implements it; tests substitute fakes.
type Sink interface {
	ToRoom(room string, msg Message)
	ToAll(msg Message)
}

// Publisher is the typed fan-out API. Delivery is best-effort and at-most-once:
// no retry, no persistence, events published to an empty room are lost.
// Publishing before a sink is attached logs and drops; it never returns an
// error because publishing always rides on top of an already-committed
// business operation.
type Publisher struct {
	mu   sync.RWMutex
	sink Sink
}

// NewPublisher creates a publisher with no transport attached yet.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Attach wires the transport. Called once by the composition root after the
// hub is constructed.
func (p *Publisher) Attach(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *Publisher) emit(room string, kind Kind, payload any) {
	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()

	if sink == nil {
		log.Printf("[EVENTS] drop %s -> %s: transport not ready", kind, room)
		return
	}
	sink.ToRoom(room, Message{Type: kind, Data: payload})
}

// EmitToRoom delivers one event to every current member of a room.
func (p *Publisher) EmitToRoom(room string, kind Kind, payload any) {
	p.emit(room, kind, payload)
}

// EmitToUser delivers to the user's personal room.
func (p *Publisher) EmitToUser(userID string, kind Kind, payload any) {
	p.emit(UserRoom(userID), kind, payload)
}

// EmitToRole delivers to a role's room.
func (p *Publisher) EmitToRole(role string, kind Kind, payload any) {
	p.emit(RoleRoom(role), kind, payload)
}

// Broadcast delivers to every live connection.
func (p *Publisher) Broadcast(kind Kind, payload any) {
	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()

	if sink == nil {
		log.Printf("[EVENTS] drop broadcast %s: transport not ready", kind)
		return
	}
	sink.ToAll(Message{Type: kind, Data: payload})
}

// TradeUpdated routes a trade change to the owner's personal room.
func (p *Publisher) TradeUpdated(ownerID, action string, trade any) {
	p.EmitToUser(ownerID, KindTradeUpdate, TradeEnvelope{
		Action:    action,
		Trade:     trade,
		Timestamp: time.Now().UTC(),
	})
}

// StrategyUpdated routes a strategy change to the owner's personal room.
func (p *Publisher) StrategyUpdated(ownerID, action string, strategy any) {
	p.EmitToUser(ownerID, KindStrategyUpdate, StrategyEnvelope{
		Action:    action,
		Strategy:  strategy,
		Timestamp: time.Now().UTC(),
	})
}

// WalletUpdated routes a committed balance mutation to the owner's personal room.
func (p *Publisher) WalletUpdated(ownerID string, wallet, transaction any) {
	p.EmitToUser(ownerID, KindWalletUpdate, WalletEnvelope{
		Wallet:      wallet,
		Transaction: transaction,
		Timestamp:   time.Now().UTC(),
	})
}

// Notify routes a notification to each target user's personal room.
func (p *Publisher) Notify(userIDs []string, notification any) {
	env := NotificationEnvelope{
		Notification: notification,
		Timestamp:    time.Now().UTC(),
	}
	for _, id := range userIDs {
		p.EmitToUser(id, KindNotification, env)
	}
}

// TicketUpdated routes a support ticket change to the ticket-specific room.
func (p *Publisher) TicketUpdated(ticketID, action string, ticket any) {
	p.EmitToRoom(TicketRoom(ticketID), KindTicketUpdate, TicketEnvelope{
		Action:    action,
		Ticket:    ticket,
		Timestamp: time.Now().UTC(),
	})
}

// DashboardUpdated routes dashboard data to the owner's personal room.
func (p *Publisher) DashboardUpdated(ownerID string, data any) {
	p.EmitToUser(ownerID, KindDashboardUpdate, DashboardEnvelope{
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
