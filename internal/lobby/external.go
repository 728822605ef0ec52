// internal/lobby/external.go
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInstanceNotFound is returned when a lobby has no external game instance.
var ErrInstanceNotFound = errors.New("external game instance not found")

// ExternalGameInstance associates a lobby with a game instance minted by an
// engine this platform does not host. There is at most one per lobby.
type ExternalGameInstance struct {
	ID             uuid.UUID `json:"id"`
	LobbyID        uuid.UUID `json:"lobbyId"`
	GameID         uuid.UUID `json:"gameId"`
	GameType       string    `json:"externalGameType"`
	ExternalGameID uuid.UUID `json:"externalGameId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// InstanceStore persists ExternalGameInstance mappings keyed by lobby.
type InstanceStore interface {
	// Create stores the mapping unless the lobby already has one, in which
	// case the existing mapping is returned unchanged.
	Create(ctx context.Context, inst ExternalGameInstance) (ExternalGameInstance, error)
	FindByLobbyID(ctx context.Context, lobbyID uuid.UUID) (ExternalGameInstance, error)
	FindByExternalID(ctx context.Context, externalID uuid.UUID) (ExternalGameInstance, error)
	// DeleteByLobbyID is a no-op when no mapping exists.
	DeleteByLobbyID(ctx context.Context, lobbyID uuid.UUID) error
}
