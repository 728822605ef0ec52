// internal/messaging/event.go
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the canonical lifecycle events.
type EventType string

const (
	TypeSessionStartRequested EventType = "SESSION_START_REQUESTED"
	TypeSessionStarted        EventType = "SESSION_STARTED"
	TypeSessionEnded          EventType = "SESSION_ENDED"
	TypeAchievementUnlocked   EventType = "ACHIEVEMENT_UNLOCKED"
	TypeMoveRequest           EventType = "MOVE_REQUEST"
)

// UnknownMarker stands in for any identity the producer could not resolve.
const UnknownMarker = "unknown"

// LifecycleEvent is the single wire schema shared by every session and
// achievement message this platform produces. Producers fill in what they
// know; lobby_id is null when the producer has no lobby.
type LifecycleEvent struct {
	EventID          uuid.UUID        `json:"event_id"`
	Type             EventType        `json:"type"`
	Timestamp        time.Time        `json:"timestamp"`
	SessionID        uuid.UUID        `json:"session_id"`
	LobbyID          *uuid.UUID       `json:"lobby_id"`
	GameID           *uuid.UUID       `json:"game_id,omitempty"`
	GameType         string           `json:"game_type,omitempty"`
	PlayerIDs        []uuid.UUID      `json:"player_ids"`
	StartingPlayerID *uuid.UUID       `json:"starting_player_id,omitempty"`
	PlayerID         *uuid.UUID       `json:"player_id,omitempty"`
	WinnerID         *uuid.UUID       `json:"winner_id,omitempty"`
	Status           string           `json:"status,omitempty"`
	Result           string           `json:"result,omitempty"`
	Configuration    map[string]any   `json:"configuration,omitempty"`
	Achievement      *AchievementInfo `json:"achievement,omitempty"`
}

// AchievementInfo is carried by ACHIEVEMENT_UNLOCKED events.
type AchievementInfo struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
}

// NewEvent returns an event of the given type with a fresh id and timestamp.
func NewEvent(t EventType, sessionID uuid.UUID) LifecycleEvent {
	return LifecycleEvent{
		EventID:   uuid.New(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		PlayerIDs: []uuid.UUID{},
	}
}

// IDPtr returns nil for uuid.Nil so optional ids serialize as absent.
func IDPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
