// internal/messaging/topology.go
package messaging

import "fmt"

// Default exchange names.
const (
	DefaultGameEventsExchange = "game_events"
	DefaultChessExchange      = "gameExchange"
)

// Routing keys on the game events exchange.
const (
	KeySessionStartRequested = "game.session.start.requested"
	KeySessionStarted        = "game.session.started"
	KeySessionEnded          = "game.session.ended"
	KeyAchievementUnlocked   = "game.achievement.unlocked"
	KeyMoveRequest           = "game.move.request"
)

// Queues owned by this service. Each queue is an independent consumer group:
// a message routed to a key is delivered once to every queue bound to it.
const (
	QueueSessionStarted      = "game.session.started"
	QueueSessionEndedLobby   = "game.session.ended.lobby"
	QueueSessionEndedAchieve = "game.session.ended.achievements"
)

// Binding attaches a named queue to a routing key on an exchange.
type Binding struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

func (b Binding) String() string {
	return fmt.Sprintf("%s/%s -> %s", b.Exchange, b.RoutingKey, b.Queue)
}

// Topology names the exchanges the platform talks to.
type Topology struct {
	GameEvents string
	Chess      string
}

// SessionStartedBinding is consumed by the lobby to bind sessions.
func (t Topology) SessionStartedBinding() Binding {
	return Binding{Exchange: t.GameEvents, RoutingKey: KeySessionStarted, Queue: QueueSessionStarted}
}

// SessionEndedLobbyBinding is the lobby cleanup copy of session ended.
func (t Topology) SessionEndedLobbyBinding() Binding {
	return Binding{Exchange: t.GameEvents, RoutingKey: KeySessionEnded, Queue: QueueSessionEndedLobby}
}

// SessionEndedAchievementsBinding is the achievement evaluation copy of
// session ended.
func (t Topology) SessionEndedAchievementsBinding() Binding {
	return Binding{Exchange: t.GameEvents, RoutingKey: KeySessionEnded, Queue: QueueSessionEndedAchieve}
}

// ChessBinding binds one of the external chess service's routing keys to a
// queue owned by this platform.
func (t Topology) ChessBinding(routingKey string) Binding {
	return Binding{Exchange: t.Chess, RoutingKey: routingKey, Queue: "platform.chess." + routingKey}
}
