// internal/lobby/store.go
package lobby

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SearchFilter narrows a lobby search. Zero values match everything.
type SearchFilter struct {
	GameID  uuid.UUID
	HostIDs []uuid.UUID
}

// Page is a zero-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

// Result is one page of lobbies plus the total number of matches.
type Result struct {
	Lobbies []*Lobby
	Total   int
	Page    Page
}

// Store is the persistence collaborator for lobbies. Save is version checked:
// it fails with ErrConflict if the stored version differs from the version
// the aggregate was loaded at, and returns the aggregate at its new version.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Lobby, error)
	FindBySessionID(ctx context.Context, sessionID uuid.UUID) (*Lobby, error)
	// FindActiveByPlayer returns the lobby the player currently belongs to
	// that is neither cancelled nor completed.
	FindActiveByPlayer(ctx context.Context, playerID uuid.UUID) (*Lobby, error)
	// SearchOpen returns PUBLIC lobbies in WAITING status, newest first.
	SearchOpen(ctx context.Context, filter SearchFilter, page Page) (Result, error)
	// FindRunningSince returns lobbies in the given status that were started
	// before the cutoff.
	FindRunningSince(ctx context.Context, status Status, cutoff time.Time) ([]*Lobby, error)
	Save(ctx context.Context, l *Lobby) (*Lobby, error)
}

// MemoryStore keeps lobbies in memory. It is safe for concurrent use and
// stores snapshots, so callers never share an aggregate.
type MemoryStore struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore initializes and returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lobbies: make(map[uuid.UUID]Snapshot),
	}
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Restore(snap), nil
}

func (s *MemoryStore) FindBySessionID(_ context.Context, sessionID uuid.UUID) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.lobbies {
		if snap.SessionID != nil && *snap.SessionID == sessionID {
			return Restore(snap), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindActiveByPlayer(_ context.Context, playerID uuid.UUID) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.lobbies {
		if snap.Status.Active() && slices.Contains(snap.PlayerIDs, playerID) {
			return Restore(snap), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SearchOpen(_ context.Context, filter SearchFilter, page Page) (Result, error) {
	page = page.Normalize()

	s.mu.Lock()
	matches := make([]Snapshot, 0)
	for _, snap := range s.lobbies {
		if snap.Status != StatusWaiting || snap.Visibility != VisibilityPublic {
			continue
		}
		if filter.GameID != uuid.Nil && (snap.GameID == nil || *snap.GameID != filter.GameID) {
			continue
		}
		if len(filter.HostIDs) > 0 && !slices.Contains(filter.HostIDs, snap.HostID) {
			continue
		}
		matches = append(matches, snap)
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	res := Result{Total: len(matches), Page: page, Lobbies: []*Lobby{}}
	start := page.Number * page.Size
	if start >= len(matches) {
		return res, nil
	}
	end := min(start+page.Size, len(matches))
	for _, snap := range matches[start:end] {
		res.Lobbies = append(res.Lobbies, Restore(snap))
	}
	return res, nil
}

func (s *MemoryStore) FindRunningSince(_ context.Context, status Status, cutoff time.Time) ([]*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Lobby
	for _, snap := range s.lobbies {
		if snap.Status != status || snap.StartedAt == nil {
			continue
		}
		if snap.StartedAt.Before(cutoff) {
			out = append(out, Restore(snap))
		}
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, l *Lobby) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := l.Snapshot()
	current, exists := s.lobbies[snap.ID]
	switch {
	case !exists && snap.Version != 0:
		return nil, ErrNotFound
	case exists && current.Version != snap.Version:
		return nil, ErrConflict
	}
	snap.Version++
	s.lobbies[snap.ID] = snap
	return Restore(snap), nil
}

// MemoryInstanceStore is the in-memory InstanceStore.
type MemoryInstanceStore struct {
	mu        sync.Mutex
	instances map[uuid.UUID]ExternalGameInstance
}

var _ InstanceStore = (*MemoryInstanceStore)(nil)

func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{instances: make(map[uuid.UUID]ExternalGameInstance)}
}

func (s *MemoryInstanceStore) Create(_ context.Context, inst ExternalGameInstance) (ExternalGameInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[inst.LobbyID]; ok {
		return existing, nil
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	s.instances[inst.LobbyID] = inst
	return inst, nil
}

func (s *MemoryInstanceStore) FindByLobbyID(_ context.Context, lobbyID uuid.UUID) (ExternalGameInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[lobbyID]
	if !ok {
		return ExternalGameInstance{}, ErrInstanceNotFound
	}
	return inst, nil
}

func (s *MemoryInstanceStore) FindByExternalID(_ context.Context, externalID uuid.UUID) (ExternalGameInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.ExternalGameID == externalID {
			return inst, nil
		}
	}
	return ExternalGameInstance{}, ErrInstanceNotFound
}

func (s *MemoryInstanceStore) DeleteByLobbyID(_ context.Context, lobbyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, lobbyID)
	return nil
}
