// internal/session/ended.go
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/sirupsen/logrus"
)

// SessionLookup finds the lobby that owns a session.
type SessionLookup interface {
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*lobby.Lobby, error)
}

// EndedConsumer turns session ended messages into in-process GameEnded
// events. Engines do not know about lobbies, so the owning lobby is found by
// session id.
type EndedConsumer struct {
	lobbies SessionLookup
	events  events.Publisher
	logger  logrus.FieldLogger
}

func NewEndedConsumer(lobbies SessionLookup, publisher events.Publisher, logger logrus.FieldLogger) *EndedConsumer {
	return &EndedConsumer{lobbies: lobbies, events: publisher, logger: logger}
}

// Subscribe starts consuming the lobby copy of session ended.
func (c *EndedConsumer) Subscribe(ctx context.Context, broker messaging.Broker, topo messaging.Topology) error {
	return broker.Subscribe(ctx, topo.SessionEndedLobbyBinding(), c.Handle)
}

func (c *EndedConsumer) Handle(ctx context.Context, msg messaging.Message) error {
	var n notice
	if err := msg.Decode(&n); err != nil {
		c.logger.WithError(err).Warn("dropping malformed session ended message")
		return nil
	}
	sessionID, err := n.sessionID()
	if err != nil {
		c.logger.WithError(err).Warn("dropping session ended message")
		return nil
	}
	log := c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"status":     n.Status,
	})

	l, err := c.lobbies.GetBySession(ctx, sessionID)
	if errors.Is(err, lobby.ErrNotFound) {
		log.Info("no lobby owns this session, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	winnerID, ok := optionalID(n.WinnerID)
	if !ok {
		log.WithField("winner_id", *n.WinnerID).Warn("invalid winner id, treating as no winner")
	}

	log.WithFields(logrus.Fields{
		"lobby_id":  l.ID(),
		"winner_id": winnerID,
	}).Info("session ended for lobby")

	c.events.Publish(ctx, events.GameEnded{
		LobbyID:    l.ID(),
		SessionID:  sessionID,
		WinnerID:   winnerID,
		Reason:     n.Status,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}
