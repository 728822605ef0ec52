// internal/players/players.go
package players

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a player does not exist.
var ErrNotFound = errors.New("player not found")

// Player is the subset of the player profile the lobby platform needs.
type Player struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Rank     int       `json:"rank"`
}

// Filter narrows a player search.
type Filter struct {
	MinRank int
	MaxRank int // zero means unbounded
}

// Directory looks players up by id or by name.
type Directory interface {
	GetPlayer(ctx context.Context, id uuid.UUID) (Player, error)
	// SearchPlayers returns players whose username contains query,
	// case-insensitively, ordered by username.
	SearchPlayers(ctx context.Context, query string, filter Filter, limit int) ([]Player, error)
}

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	players map[uuid.UUID]Player
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory(players ...Player) *MemoryDirectory {
	d := &MemoryDirectory{players: make(map[uuid.UUID]Player)}
	for _, p := range players {
		d.Put(p)
	}
	return d
}

// Put adds or replaces a player.
func (d *MemoryDirectory) Put(p Player) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.players[p.ID] = p
}

func (d *MemoryDirectory) GetPlayer(_ context.Context, id uuid.UUID) (Player, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.players[id]
	if !ok {
		return Player{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) SearchPlayers(_ context.Context, query string, filter Filter, limit int) ([]Player, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	d.mu.RLock()
	var out []Player
	for _, p := range d.players {
		if !strings.Contains(strings.ToLower(p.Username), q) {
			continue
		}
		if p.Rank < filter.MinRank || (filter.MaxRank > 0 && p.Rank > filter.MaxRank) {
			continue
		}
		out = append(out, p)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b Player) int { return strings.Compare(a.Username, b.Username) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
