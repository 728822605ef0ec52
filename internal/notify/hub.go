// internal/notify/hub.go

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/sirupsen/logrus"
)

// connBuffer is how many notifications a slow connection may fall behind
// before further ones are dropped for it.
const connBuffer = 16

// Notification is what websocket clients receive.
type Notification struct {
	Type    string       `json:"type"`
	LobbyID uuid.UUID    `json:"lobbyId"`
	Event   events.Event `json:"event"`
	SentAt  time.Time    `json:"sentAt"`
}

// Conn is one subscriber's view of a lobby.
type Conn struct {
	UserID uuid.UUID
	Out    <-chan Notification

	out  chan Notification
	once sync.Once
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.out) })
}

// room tracks the connections watching one lobby.
type room struct {
	conns map[*Conn]struct{}
}

// Hub fans lobby domain events out to the connections watching that lobby.
type Hub struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]*room
	logger logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]*room),
		logger: logger,
	}
}

// Subscribe adds a connection to the lobby's room. The returned function
// removes it and closes Out.
func (h *Hub) Subscribe(lobbyID, userID uuid.UUID) (*Conn, func()) {
	out := make(chan Notification, connBuffer)
	c := &Conn{UserID: userID, Out: out, out: out}

	h.mu.Lock()
	r, ok := h.rooms[lobbyID]
	if !ok {
		r = &room{conns: make(map[*Conn]struct{})}
		h.rooms[lobbyID] = r
	}
	r.conns[c] = struct{}{}
	h.mu.Unlock()

	return c, func() { h.unsubscribe(lobbyID, c) }
}

func (h *Hub) unsubscribe(lobbyID uuid.UUID, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[lobbyID]; ok {
		delete(r.conns, c)
		if len(r.conns) == 0 {
			delete(h.rooms, lobbyID)
		}
	}
	c.close()
}

// Watchers returns how many connections watch the lobby.
func (h *Hub) Watchers(lobbyID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[lobbyID]; ok {
		return len(r.conns)
	}
	return 0
}

// Broadcast delivers ev to everyone watching the lobby without blocking.
func (h *Hub) Broadcast(lobbyID uuid.UUID, ev events.Event) {
	n := Notification{Type: ev.EventName(), LobbyID: lobbyID, Event: ev, SentAt: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[lobbyID]
	if !ok {
		return
	}
	for c := range r.conns {
		select {
		case c.out <- n:
		default:
			h.logger.WithFields(logrus.Fields{
				"lobby_id": lobbyID,
				"user_id":  c.UserID,
				"type":     n.Type,
			}).Warn("notification dropped for slow connection")
		}
	}
}

// Register forwards every lobby-scoped domain event to the hub.
func (h *Hub) Register(bus *events.Bus) {
	forward(h, bus, func(e events.LobbyCreated) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.LobbyUpdated) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.PlayerJoined) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.PlayerLeft) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.PlayerInvited) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.LobbyStarted) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.LobbyCancelled) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.LobbyCompleted) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.SessionBound) uuid.UUID { return e.LobbyID })
	forward(h, bus, func(e events.GameEnded) uuid.UUID { return e.LobbyID })
}

func forward[T events.Event](h *Hub, bus *events.Bus, lobbyID func(T) uuid.UUID) {
	events.Subscribe(bus, func(_ context.Context, ev T) error {
		h.Broadcast(lobbyID(ev), ev)
		return nil
	})
}
