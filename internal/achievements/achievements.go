// internal/achievements/achievements.go
package achievements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("achievement not found")

// Achievement is a per-game achievement definition, unique by (GameID, Code).
type Achievement struct {
	ID          uuid.UUID `json:"id"`
	GameID      uuid.UUID `json:"gameId"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	// ThirdParty marks achievements defined by an external game service.
	ThirdParty bool      `json:"thirdParty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PlayerAchievement is a recorded unlock.
type PlayerAchievement struct {
	PlayerID    uuid.UUID   `json:"playerId"`
	Achievement Achievement `json:"achievement"`
	UnlockedAt  time.Time   `json:"unlockedAt"`
}

// Definition is an achievement advertised by a game before anyone earns it.
type Definition struct {
	Code        string
	Name        string
	Description string
}

// Store persists achievements and unlocks. Both writes are idempotent.
type Store interface {
	// EnsureAchievement returns the stored achievement for (a.GameID, a.Code),
	// creating it from a when absent. Existing definitions are not modified.
	EnsureAchievement(ctx context.Context, a Achievement) (Achievement, error)
	// Unlock records that the player earned the achievement. It reports false
	// when the unlock already existed.
	Unlock(ctx context.Context, playerID, achievementID uuid.UUID, at time.Time) (bool, error)
	ListForPlayer(ctx context.Context, playerID uuid.UUID) ([]PlayerAchievement, error)
}

// GameEndedContext is what achievement evaluation gets to see about a
// finished session.
type GameEndedContext struct {
	SessionID uuid.UUID
	GameID    uuid.UUID
	GameType  string
	WinnerID  uuid.UUID
	PlayerIDs []uuid.UUID
	Status    string
	EndedAt   time.Time
}

// Evaluator decides which achievements a finished session earns. The
// criteria engine lives outside this service.
type Evaluator interface {
	Evaluate(ctx context.Context, game GameEndedContext) error
}
