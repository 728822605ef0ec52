// internal/session/cleanup.go
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/sirupsen/logrus"
)

// LobbyCleanup resets lobbies whose game ended and drops their external game
// instance mappings.
type LobbyCleanup struct {
	lobbies   *lobby.Service
	instances lobby.InstanceStore
	logger    logrus.FieldLogger
}

func NewLobbyCleanup(lobbies *lobby.Service, instances lobby.InstanceStore, logger logrus.FieldLogger) *LobbyCleanup {
	return &LobbyCleanup{lobbies: lobbies, instances: instances, logger: logger}
}

// Register subscribes to GameEnded, LobbyCancelled and LobbyCompleted.
func (c *LobbyCleanup) Register(bus *events.Bus) {
	events.Subscribe(bus, c.OnGameEnded)
	events.Subscribe(bus, c.OnLobbyCancelled)
	events.Subscribe(bus, c.OnLobbyCompleted)
}

// OnGameEnded resets the lobby to WAITING. A lobby that was already reset,
// cancelled or moved on to another session is left alone. Abandoned games
// only reset a lobby still in the state the reconciler observed.
func (c *LobbyCleanup) OnGameEnded(ctx context.Context, ev events.GameEnded) error {
	log := c.logger.WithFields(logrus.Fields{
		"lobby_id":   ev.LobbyID,
		"session_id": ev.SessionID,
		"abandoned":  ev.Abandoned,
	})

	var reset bool
	var err error
	if ev.Abandoned {
		_, reset, err = c.lobbies.ReleaseAbandoned(ctx, ev.LobbyID, lobby.Status(ev.ObservedStatus), ev.ObservedStartedAt, ev.SessionID)
	} else {
		_, reset, err = c.lobbies.ResetAfterGameEnd(ctx, ev.LobbyID, ev.SessionID)
	}
	if errors.Is(err, lobby.ErrNotFound) {
		log.Warn("lobby for ended game not found")
		return nil
	}
	if err != nil {
		return err
	}
	if !reset {
		log.Debug("lobby already reset or bound elsewhere, nothing to do")
		return nil
	}
	log.Info("lobby reset after game end")
	c.dropInstance(ctx, ev.LobbyID)
	return nil
}

// OnLobbyCancelled removes any external instance the lobby still points at.
func (c *LobbyCleanup) OnLobbyCancelled(ctx context.Context, ev events.LobbyCancelled) error {
	c.dropInstance(ctx, ev.LobbyID)
	return nil
}

// OnLobbyCompleted removes the external instance of a lobby closed for good.
func (c *LobbyCleanup) OnLobbyCompleted(ctx context.Context, ev events.LobbyCompleted) error {
	c.dropInstance(ctx, ev.LobbyID)
	return nil
}

func (c *LobbyCleanup) dropInstance(ctx context.Context, lobbyID uuid.UUID) {
	if c.instances == nil {
		return
	}
	if err := c.instances.DeleteByLobbyID(ctx, lobbyID); err != nil {
		c.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("failed to remove external game instance")
	}
}
