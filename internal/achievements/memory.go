// internal/achievements/memory.go
package achievements

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type achievementKey struct {
	gameID uuid.UUID
	code   string
}

type unlockKey struct {
	playerID      uuid.UUID
	achievementID uuid.UUID
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.Mutex
	byKey    map[achievementKey]Achievement
	byID     map[uuid.UUID]Achievement
	unlocked map[unlockKey]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:    make(map[achievementKey]Achievement),
		byID:     make(map[uuid.UUID]Achievement),
		unlocked: make(map[unlockKey]time.Time),
	}
}

func (s *MemoryStore) EnsureAchievement(_ context.Context, a Achievement) (Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := achievementKey{gameID: a.GameID, code: a.Code}
	if existing, ok := s.byKey[key]; ok {
		return existing, nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.byKey[key] = a
	s.byID[a.ID] = a
	return a, nil
}

func (s *MemoryStore) Unlock(_ context.Context, playerID, achievementID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[achievementID]; !ok {
		return false, ErrNotFound
	}
	key := unlockKey{playerID: playerID, achievementID: achievementID}
	if _, ok := s.unlocked[key]; ok {
		return false, nil
	}
	s.unlocked[key] = at
	return true, nil
}

func (s *MemoryStore) ListForPlayer(_ context.Context, playerID uuid.UUID) ([]PlayerAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []PlayerAchievement{}
	for key, at := range s.unlocked {
		if key.playerID != playerID {
			continue
		}
		out = append(out, PlayerAchievement{
			PlayerID:    playerID,
			Achievement: s.byID[key.achievementID],
			UnlockedAt:  at,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}
