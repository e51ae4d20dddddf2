package events

// Room name helpers shared by the hub and the publisher. Rooms are purely
// in-memory topics; membership is the set of live connections joined to them.

const AdminRoom = "admins"

func UserRoom(userID string) string      { return "user:" + userID }
func RoleRoom(role string) string        { return "role:" + role }
func TradesRoom(userID string) string    { return "trades:" + userID }
func StrategyRoom(userID string) string  { return "strategies:" + userID }
func WalletRoom(userID string) string    { return "wallet:" + userID }
func DashboardRoom(userID string) string { return "dashboard:" + userID }
func TicketRoom(ticketID string) string  { return "ticket:" + ticketID }
