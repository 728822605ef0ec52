// internal/session/started.go
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/sirupsen/logrus"
)

// StartedConsumer binds confirmed sessions to their lobbies.
type StartedConsumer struct {
	lobbies *lobby.Service
	logger  logrus.FieldLogger
}

func NewStartedConsumer(lobbies *lobby.Service, logger logrus.FieldLogger) *StartedConsumer {
	return &StartedConsumer{lobbies: lobbies, logger: logger}
}

// Subscribe starts consuming the session started queue.
func (c *StartedConsumer) Subscribe(ctx context.Context, broker messaging.Broker, topo messaging.Topology) error {
	return broker.Subscribe(ctx, topo.SessionStartedBinding(), c.Handle)
}

// Handle binds the session id to the lobby and moves it to IN_PROGRESS.
// Messages that cannot apply (malformed, unknown lobby, lobby no longer
// running) are logged and dropped; only storage failures are returned.
func (c *StartedConsumer) Handle(ctx context.Context, msg messaging.Message) error {
	var n notice
	if err := msg.Decode(&n); err != nil {
		c.logger.WithError(err).Warn("dropping malformed session started message")
		return nil
	}
	sessionID, err := n.sessionID()
	if err != nil {
		c.logger.WithError(err).Warn("dropping session started message")
		return nil
	}
	lobbyID, ok := optionalID(n.LobbyID)
	log := c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"game_type":  n.GameType,
		"status":     n.Status,
	})
	if !ok || lobbyID == uuid.Nil {
		log.Info("session started without a usable lobby id, nothing to bind")
		return nil
	}
	log = log.WithField("lobby_id", lobbyID)

	l, err := c.lobbies.BindSession(ctx, lobbyID, sessionID)
	switch {
	case errors.Is(err, lobby.ErrNotFound):
		log.Warn("lobby for started session not found, dropping message")
		return nil
	case lobby.IsValidation(err):
		log.WithError(err).Warn("lobby cannot take this session, dropping message")
		return nil
	case err != nil:
		return err
	}
	log.WithField("lobby_status", l.Status()).Info("session bound to lobby")
	return nil
}
