package events

import "time"

// Kind enumerates the canonical real-time event types pushed to clients.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindSubscribed      Kind = "subscribed"
	KindPong            Kind = "pong"
	KindTradeUpdate     Kind = "trade:update"
	KindStrategyUpdate  Kind = "strategy:update"
	KindWalletUpdate    Kind = "wallet:update"
	KindNotification    Kind = "notification:new"
	KindTicketUpdate    Kind = "ticket:update"
	KindDashboardUpdate Kind = "dashboard:update"
	KindUserTyping      Kind = "support:user_typing"
)

// Trade update actions.
const (
	TradeCreate = "create"
	TradeUpdate = "update"
	TradeDelete = "delete"
)

// Strategy update actions.
const (
	StrategyCreate       = "create"
	StrategyUpdate       = "update"
	StrategyStatusChange = "status_change"
	StrategyStarted      = "started"
	StrategyStopped      = "stopped"
)

// Ticket update actions.
const (
	TicketMessage      = "message"
	TicketStatusChange = "status_change"
	TicketAssigned     = "assigned"
)

// Message is the wire envelope delivered to subscribers.
type Message struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

// TradeEnvelope carries a trade change to the owner's personal room.
type TradeEnvelope struct {
	Action    string    `json:"action"`
	Trade     any       `json:"trade"`
	Timestamp time.Time `json:"timestamp"`
}

// StrategyEnvelope carries a strategy change to the owner's personal room.
type StrategyEnvelope struct {
	Action    string    `json:"action"`
	Strategy  any       `json:"strategy"`
	Timestamp time.Time `json:"timestamp"`
}

// WalletEnvelope carries a committed balance mutation and its ledger entry.
type WalletEnvelope struct {
	Wallet      any       `json:"wallet"`
	Transaction any       `json:"transaction"`
	Timestamp   time.Time `json:"timestamp"`
}

// NotificationEnvelope carries a user notification.
type NotificationEnvelope struct {
	Notification any       `json:"notification"`
	Timestamp    time.Time `json:"timestamp"`
}

// TicketEnvelope carries a support ticket change to the ticket room.
type TicketEnvelope struct {
	Action    string    `json:"action"`
	Ticket    any       `json:"ticket"`
	Timestamp time.Time `json:"timestamp"`
}

// DashboardEnvelope carries aggregated dashboard data.
type DashboardEnvelope struct {
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
