// internal/session/publisher.go
package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/sirupsen/logrus"
)

// RequestPublisher asks a game engine for a new session whenever a lobby
// starts a game hosted by this platform.
type RequestPublisher struct {
	broker   messaging.Broker
	catalog  *Catalog
	exchange string
	logger   logrus.FieldLogger
}

func NewRequestPublisher(broker messaging.Broker, catalog *Catalog, exchange string, logger logrus.FieldLogger) *RequestPublisher {
	return &RequestPublisher{broker: broker, catalog: catalog, exchange: exchange, logger: logger}
}

// Register subscribes the publisher to lobby started events.
func (p *RequestPublisher) Register(bus *events.Bus) {
	events.Subscribe(bus, p.OnLobbyStarted)
}

// OnLobbyStarted publishes game.session.start.requested. The lobby start has
// already been saved, so a failed publish is logged and swallowed.
func (p *RequestPublisher) OnLobbyStarted(ctx context.Context, ev events.LobbyStarted) error {
	kind := p.catalog.Resolve(ev.GameID)
	log := p.logger.WithFields(logrus.Fields{
		"lobby_id":  ev.LobbyID,
		"game_id":   ev.GameID,
		"game_type": kind.Type,
	})
	if kind.External {
		log.Debug("external game, session start handled by its adapter")
		return nil
	}

	req := StartRequest(ev, kind, uuid.New())
	if err := p.broker.Publish(ctx, p.exchange, messaging.KeySessionStartRequested, req); err != nil {
		log.WithError(err).Error("failed to publish session start request")
		return nil
	}
	log.WithField("session_id", req.SessionID).Info("published session start request")
	return nil
}

// StartRequest builds the session start request for a started lobby. The
// first member starts, so a restarted lobby produces the same order.
func StartRequest(ev events.LobbyStarted, kind GameKind, sessionID uuid.UUID) messaging.LifecycleEvent {
	req := messaging.NewEvent(messaging.TypeSessionStartRequested, sessionID)
	req.LobbyID = messaging.IDPtr(ev.LobbyID)
	req.GameID = messaging.IDPtr(ev.GameID)
	req.GameType = kind.Type
	req.PlayerIDs = append([]uuid.UUID{}, ev.PlayerIDs...)
	if len(ev.PlayerIDs) > 0 {
		req.StartingPlayerID = messaging.IDPtr(ev.PlayerIDs[0])
	}
	req.Configuration = kind.Configuration
	return req
}
