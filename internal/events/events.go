// internal/events/events.go
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is an in-process domain event. Events are only ever pushed to
// websocket clients as-is; the broker-facing schema lives in the messaging
// package.
type Event interface {
	EventName() string
}

const (
	NameLobbyCreated        = "lobby.created"
	NameLobbyUpdated        = "lobby.updated"
	NamePlayerJoined        = "lobby.player.joined"
	NamePlayerLeft          = "lobby.player.left"
	NamePlayerInvited       = "lobby.player.invited"
	NameLobbyStarted        = "lobby.started"
	NameLobbyCancelled      = "lobby.cancelled"
	NameLobbyCompleted      = "lobby.completed"
	NameSessionBound        = "lobby.session.bound"
	NameGameEnded           = "game.ended"
	NameAchievementUnlocked = "achievement.unlocked"
)

type LobbyCreated struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	HostID     uuid.UUID `json:"hostId"`
	Name       string    `json:"name"`
	Visibility string    `json:"visibility"`
	MaxPlayers int       `json:"maxPlayers"`
	OccurredAt time.Time `json:"occurredAt"`
}

type LobbyUpdated struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	GameID     uuid.UUID `json:"gameId"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurredAt"`
}

type PlayerJoined struct {
	LobbyID    uuid.UUID   `json:"lobbyId"`
	PlayerID   uuid.UUID   `json:"playerId"`
	GameID     uuid.UUID   `json:"gameId"`
	PlayerIDs  []uuid.UUID `json:"playerIds"`
	MaxPlayers int         `json:"maxPlayers"`
	Status     string      `json:"status"`
	OccurredAt time.Time   `json:"occurredAt"`
}

type PlayerLeft struct {
	LobbyID    uuid.UUID   `json:"lobbyId"`
	PlayerID   uuid.UUID   `json:"playerId"`
	PlayerIDs  []uuid.UUID `json:"playerIds"`
	Status     string      `json:"status"`
	OccurredAt time.Time   `json:"occurredAt"`
}

type PlayerInvited struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	HostID     uuid.UUID `json:"hostId"`
	InviteeID  uuid.UUID `json:"inviteeId"`
	LobbyName  string    `json:"lobbyName"`
	OccurredAt time.Time `json:"occurredAt"`
}

type LobbyStarted struct {
	LobbyID    uuid.UUID   `json:"lobbyId"`
	HostID     uuid.UUID   `json:"hostId"`
	GameID     uuid.UUID   `json:"gameId"`
	PlayerIDs  []uuid.UUID `json:"playerIds"`
	StartedAt  time.Time   `json:"startedAt"`
	OccurredAt time.Time   `json:"occurredAt"`
}

type LobbyCancelled struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	HostID     uuid.UUID `json:"hostId"`
	OccurredAt time.Time `json:"occurredAt"`
}

type LobbyCompleted struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	OccurredAt time.Time `json:"occurredAt"`
}

type SessionBound struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	SessionID  uuid.UUID `json:"sessionId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// GameEnded is raised when the session owning a lobby has finished, or when
// the reconciler gives up on it (Abandoned).
type GameEnded struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	SessionID  uuid.UUID `json:"sessionId"`
	WinnerID   uuid.UUID `json:"winnerId"` // uuid.Nil when there is no winner
	Abandoned  bool      `json:"abandoned"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`

	// Set on abandoned games: the state the reconciler saw. Cleanup only
	// resets a lobby that is still in exactly that state.
	ObservedStatus    string    `json:"observedStatus,omitempty"`
	ObservedStartedAt time.Time `json:"observedStartedAt"`
}

type AchievementUnlocked struct {
	PlayerID        uuid.UUID `json:"playerId"`
	GameID          uuid.UUID `json:"gameId"`
	AchievementID   uuid.UUID `json:"achievementId"`
	AchievementCode string    `json:"achievementCode"`
	OccurredAt      time.Time `json:"occurredAt"`
}

func (LobbyCreated) EventName() string        { return NameLobbyCreated }
func (LobbyUpdated) EventName() string        { return NameLobbyUpdated }
func (PlayerJoined) EventName() string        { return NamePlayerJoined }
func (PlayerLeft) EventName() string          { return NamePlayerLeft }
func (PlayerInvited) EventName() string       { return NamePlayerInvited }
func (LobbyStarted) EventName() string        { return NameLobbyStarted }
func (LobbyCancelled) EventName() string      { return NameLobbyCancelled }
func (LobbyCompleted) EventName() string      { return NameLobbyCompleted }
func (SessionBound) EventName() string        { return NameSessionBound }
func (GameEnded) EventName() string           { return NameGameEnded }
func (AchievementUnlocked) EventName() string { return NameAchievementUnlocked }
