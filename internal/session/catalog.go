// internal/session/catalog.go
package session

import (
	"maps"
	"sync"

	"github.com/google/uuid"
)

const (
	GameTypeChess       = "chess"
	GameTypeConnectFour = "connect_four"

	// InitialChessFEN is the standard starting position.
	InitialChessFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
)

// DefaultChessGameID is the platform game id of the external chess service.
var DefaultChessGameID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440002")

// GameKind describes how sessions for one platform game are created.
type GameKind struct {
	GameID uuid.UUID
	Type   string
	// External games are provisioned through their own adapter instead of
	// a session start request.
	External      bool
	Configuration map[string]any
}

// Catalog maps platform game ids to game kinds. Unknown ids resolve to the
// fallback kind.
type Catalog struct {
	mu       sync.RWMutex
	kinds    map[uuid.UUID]GameKind
	fallback GameKind
}

// NewCatalog returns a catalog with connect four as the fallback and chess
// registered as the external game under chessGameID.
func NewCatalog(chessGameID uuid.UUID) *Catalog {
	c := &Catalog{
		kinds: make(map[uuid.UUID]GameKind),
		fallback: GameKind{
			Type:          GameTypeConnectFour,
			Configuration: map[string]any{"rows": 6, "columns": 7},
		},
	}
	c.Register(GameKind{
		GameID:        chessGameID,
		Type:          GameTypeChess,
		External:      true,
		Configuration: map[string]any{"initialFen": InitialChessFEN},
	})
	return c
}

// Register adds or replaces a game kind.
func (c *Catalog) Register(k GameKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[k.GameID] = k
}

// Resolve returns the kind for gameID. The configuration is a copy.
func (c *Catalog) Resolve(gameID uuid.UUID) GameKind {
	c.mu.RLock()
	k, ok := c.kinds[gameID]
	c.mu.RUnlock()
	if !ok {
		k = c.fallback
		k.GameID = gameID
	}
	k.Configuration = maps.Clone(k.Configuration)
	if k.Configuration == nil {
		k.Configuration = map[string]any{}
	}
	return k
}

// IsType reports whether gameID resolves to the given type tag.
func (c *Catalog) IsType(gameID uuid.UUID, gameType string) bool {
	return c.Resolve(gameID).Type == gameType
}
