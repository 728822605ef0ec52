// internal/lobby/service.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/sirupsen/logrus"
)

// maxSaveAttempts bounds the reload-and-retry loop on version conflicts.
const maxSaveAttempts = 3

// Service runs the lobby use cases: load, validate and mutate through the
// aggregate, save, then publish a domain event. Events are only published
// after the save succeeded.
type Service struct {
	store  Store
	events events.Publisher
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewService(store Store, publisher events.Publisher, logger logrus.FieldLogger) *Service {
	return &Service{
		store:  store,
		events: publisher,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams describes a new lobby.
type CreateParams struct {
	HostID      uuid.UUID
	Name        string
	Description string
	MaxPlayers  int
	Private     bool
}

// UpdateParams carries the optional fields of a lobby update. Nil fields are
// left untouched.
type UpdateParams struct {
	Name        *string
	Description *string
	GameID      *uuid.UUID
}

// Create makes a new WAITING lobby hosted by p.HostID. A player can only be
// in one active lobby at a time.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Lobby, error) {
	if err := s.ensureNotInOtherLobby(ctx, p.HostID, uuid.Nil); err != nil {
		return nil, err
	}
	visibility := VisibilityPublic
	if p.Private {
		visibility = VisibilityPrivate
	}
	l, err := New(p.HostID, p.Name, p.Description, p.MaxPlayers, visibility)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.Save(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("failed to save new lobby: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"lobby_id": saved.ID(),
		"host_id":  p.HostID,
	}).Info("lobby created")

	s.events.Publish(ctx, events.LobbyCreated{
		LobbyID:    saved.ID(),
		HostID:     saved.HostID(),
		Name:       saved.Name(),
		Visibility: string(saved.Visibility()),
		MaxPlayers: saved.MaxPlayers(),
		OccurredAt: s.now(),
	})
	return saved, nil
}

// Join adds playerID to the lobby.
func (s *Service) Join(ctx context.Context, lobbyID, playerID uuid.UUID) (*Lobby, error) {
	if err := s.ensureNotInOtherLobby(ctx, playerID, lobbyID); err != nil {
		return nil, err
	}
	saved, _, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		return true, l.Join(playerID)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.PlayerJoined{
		LobbyID:    saved.ID(),
		PlayerID:   playerID,
		GameID:     saved.GameID(),
		PlayerIDs:  saved.PlayerIDs(),
		MaxPlayers: saved.MaxPlayers(),
		Status:     string(saved.Status()),
		OccurredAt: s.now(),
	})
	return saved, nil
}

// Leave removes playerID from the lobby. Leaving a lobby the player is not in
// succeeds without changes.
func (s *Service) Leave(ctx context.Context, lobbyID, playerID uuid.UUID) (*Lobby, error) {
	saved, changed, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if !l.HasPlayer(playerID) {
			return false, nil
		}
		l.Leave(playerID)
		return true, nil
	})
	if err != nil || !changed {
		return saved, err
	}

	s.events.Publish(ctx, events.PlayerLeft{
		LobbyID:    saved.ID(),
		PlayerID:   playerID,
		PlayerIDs:  saved.PlayerIDs(),
		Status:     string(saved.Status()),
		OccurredAt: s.now(),
	})
	if saved.Status() == StatusCancelled {
		s.logger.WithField("lobby_id", saved.ID()).Info("host left, lobby cancelled")
		s.events.Publish(ctx, events.LobbyCancelled{
			LobbyID:    saved.ID(),
			HostID:     saved.HostID(),
			OccurredAt: s.now(),
		})
	}
	return saved, nil
}

// Start begins a game in the lobby. If gameID is not uuid.Nil it is selected
// first. Only the host may start.
func (s *Service) Start(ctx context.Context, lobbyID, hostID, gameID uuid.UUID) (*Lobby, error) {
	saved, _, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if !l.IsHost(hostID) {
			return false, opError("start", ErrNotHost, "player %s is not the host", hostID)
		}
		if gameID != uuid.Nil && l.Status() == StatusWaiting {
			if err := l.SelectGame(gameID); err != nil {
				return false, err
			}
		}
		return true, l.Start()
	})
	if err != nil {
		return nil, err
	}

	startedAt, _ := saved.StartedAt()
	s.logger.WithFields(logrus.Fields{
		"lobby_id": saved.ID(),
		"game_id":  saved.GameID(),
		"players":  saved.PlayerCount(),
	}).Info("lobby started")

	s.events.Publish(ctx, events.LobbyStarted{
		LobbyID:    saved.ID(),
		HostID:     saved.HostID(),
		GameID:     saved.GameID(),
		PlayerIDs:  saved.PlayerIDs(),
		StartedAt:  startedAt,
		OccurredAt: s.now(),
	})
	return saved, nil
}

// Invite records an invitation to a private lobby. Only the host may invite.
func (s *Service) Invite(ctx context.Context, lobbyID, hostID, inviteeID uuid.UUID) (*Lobby, error) {
	saved, _, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if !l.IsHost(hostID) {
			return false, opError("invite", ErrNotHost, "player %s is not the host", hostID)
		}
		return true, l.Invite(inviteeID)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.PlayerInvited{
		LobbyID:    saved.ID(),
		HostID:     hostID,
		InviteeID:  inviteeID,
		LobbyName:  saved.Name(),
		OccurredAt: s.now(),
	})
	return saved, nil
}

// Update changes display attributes and/or the selected game. Only the host
// may update, and only while the lobby is WAITING.
func (s *Service) Update(ctx context.Context, lobbyID, hostID uuid.UUID, p UpdateParams) (*Lobby, error) {
	saved, _, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if !l.IsHost(hostID) {
			return false, opError("update", ErrNotHost, "player %s is not the host", hostID)
		}
		if p.Name != nil || p.Description != nil {
			name, desc := l.Name(), l.Description()
			if p.Name != nil {
				name = *p.Name
			}
			if p.Description != nil {
				desc = *p.Description
			}
			if err := l.Rename(name, desc); err != nil {
				return false, err
			}
		}
		if p.GameID != nil {
			if err := l.SelectGame(*p.GameID); err != nil {
				return false, err
			}
		}
		if l.Status() != StatusWaiting {
			return false, opError("update", ErrNotWaiting, "lobby is %s", l.Status())
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.LobbyUpdated{
		LobbyID:    saved.ID(),
		GameID:     saved.GameID(),
		Name:       saved.Name(),
		OccurredAt: s.now(),
	})
	return saved, nil
}

// Complete closes a running lobby for good. Only the host may complete.
func (s *Service) Complete(ctx context.Context, lobbyID, hostID uuid.UUID) (*Lobby, error) {
	saved, _, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if !l.IsHost(hostID) {
			return false, opError("complete", ErrNotHost, "player %s is not the host", hostID)
		}
		return true, l.Complete()
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.LobbyCompleted{LobbyID: saved.ID(), OccurredAt: s.now()})
	return saved, nil
}

// BindSession attaches an engine session to a running lobby. Redelivery of
// the same binding does not save again.
func (s *Service) BindSession(ctx context.Context, lobbyID, sessionID uuid.UUID) (*Lobby, error) {
	saved, changed, err := s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		before := l.Status()
		bound := l.SessionID() == sessionID
		if err := l.BindSession(sessionID); err != nil {
			return false, err
		}
		return !bound || before != l.Status(), nil
	})
	if err != nil || !changed {
		return saved, err
	}

	s.events.Publish(ctx, events.SessionBound{
		LobbyID:    saved.ID(),
		SessionID:  sessionID,
		Status:     string(saved.Status()),
		OccurredAt: s.now(),
	})
	return saved, nil
}

// ResetAfterGameEnd returns the lobby to WAITING once its session is over.
// When sessionID is set and the lobby is already bound to a different
// session, nothing changes. The boolean reports whether the lobby was reset.
func (s *Service) ResetAfterGameEnd(ctx context.Context, lobbyID, sessionID uuid.UUID) (*Lobby, bool, error) {
	return s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if sessionID != uuid.Nil && l.SessionID() != uuid.Nil && l.SessionID() != sessionID {
			return false, nil
		}
		return l.ResetAfterGameEnd(), nil
	})
}

// ReleaseAbandoned resets a lobby the reconciler gave up on, but only if it
// is still in the state that was observed: same status, same start time and
// same session. A lobby that bound a session or restarted in the meantime is
// left alone.
func (s *Service) ReleaseAbandoned(ctx context.Context, lobbyID uuid.UUID, observed Status, startedAt time.Time, sessionID uuid.UUID) (*Lobby, bool, error) {
	return s.mutate(ctx, lobbyID, func(l *Lobby) (bool, error) {
		if l.Status() != observed || l.SessionID() != sessionID {
			return false, nil
		}
		if at, ok := l.StartedAt(); !ok || !at.Equal(startedAt) {
			return false, nil
		}
		return l.ResetAfterGameEnd(), nil
	})
}

// Get returns a lobby by id.
func (s *Service) Get(ctx context.Context, lobbyID uuid.UUID) (*Lobby, error) {
	return s.store.FindByID(ctx, lobbyID)
}

// GetByPlayer returns the active lobby the player belongs to.
func (s *Service) GetByPlayer(ctx context.Context, playerID uuid.UUID) (*Lobby, error) {
	return s.store.FindActiveByPlayer(ctx, playerID)
}

// GetBySession returns the lobby bound to the given session.
func (s *Service) GetBySession(ctx context.Context, sessionID uuid.UUID) (*Lobby, error) {
	return s.store.FindBySessionID(ctx, sessionID)
}

// Search lists joinable public lobbies.
func (s *Service) Search(ctx context.Context, filter SearchFilter, page Page) (Result, error) {
	return s.store.SearchOpen(ctx, filter, page)
}

// mutate loads the lobby, applies fn and saves the result. A version conflict
// reloads and re-applies fn, so a racing writer is rejected by the aggregate's
// own checks rather than overwritten. When fn reports no change nothing is
// saved and the loaded lobby is returned.
func (s *Service) mutate(ctx context.Context, lobbyID uuid.UUID, fn func(*Lobby) (bool, error)) (*Lobby, bool, error) {
	for attempt := 1; ; attempt++ {
		l, err := s.store.FindByID(ctx, lobbyID)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(l)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return l, false, nil
		}

		saved, err := s.store.Save(ctx, l)
		if err == nil {
			return saved, true, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxSaveAttempts {
			return nil, false, fmt.Errorf("failed to save lobby %s: %w", lobbyID, err)
		}
		s.logger.WithFields(logrus.Fields{
			"lobby_id": lobbyID,
			"attempt":  attempt,
		}).Debug("lobby version conflict, retrying")
	}
}

func (s *Service) ensureNotInOtherLobby(ctx context.Context, playerID, lobbyID uuid.UUID) error {
	current, err := s.store.FindActiveByPlayer(ctx, playerID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up current lobby: %w", err)
	}
	if current.ID() == lobbyID {
		return nil
	}
	return opError("join", ErrPlayerInOtherLobby, "player %s is in lobby %s", playerID, current.ID())
}
