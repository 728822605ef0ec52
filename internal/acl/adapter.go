// internal/acl/adapter.go
package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/jason-s-yu/gamelobby/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// AdapterConfig configures ChessAdapter.
type AdapterConfig struct {
	// GameEventsExchange receives the translated events.
	GameEventsExchange string
	// ChessGameID is the platform game id achievements are recorded under.
	ChessGameID uuid.UUID
}

// ChessAdapter translates the chess service's messages into canonical
// lifecycle events. Nothing it consumes is trusted: every message is handled
// on its own and any failure is logged and dropped.
type ChessAdapter struct {
	broker       messaging.Broker
	resolver     Resolver
	instances    lobby.InstanceStore
	achievements *achievements.Service
	cfg          AdapterConfig
	logger       logrus.FieldLogger
}

func NewChessAdapter(
	broker messaging.Broker,
	resolver Resolver,
	instances lobby.InstanceStore,
	achievementSvc *achievements.Service,
	cfg AdapterConfig,
	logger logrus.FieldLogger,
) *ChessAdapter {
	if cfg.GameEventsExchange == "" {
		cfg.GameEventsExchange = messaging.DefaultGameEventsExchange
	}
	if cfg.ChessGameID == uuid.Nil {
		cfg.ChessGameID = session.DefaultChessGameID
	}
	return &ChessAdapter{
		broker:       broker,
		resolver:     resolver,
		instances:    instances,
		achievements: achievementSvc,
		cfg:          cfg,
		logger:       logger.WithField("component", "chess-acl"),
	}
}

// Subscribe binds one queue per chess routing key.
func (a *ChessAdapter) Subscribe(ctx context.Context, broker messaging.Broker, topo messaging.Topology) error {
	handlers := map[string]messaging.Handler{
		KeyGameCreated:         handle(a, KeyGameCreated, a.GameCreated),
		KeyPlayerNamesUpdated:  handle(a, KeyPlayerNamesUpdated, a.GameUpdated),
		KeyGameEnded:           handle(a, KeyGameEnded, a.GameEnded),
		KeyGameRegistered:      handle(a, KeyGameRegistered, a.GameRegistered),
		KeyMoveMade:            handle(a, KeyMoveMade, a.MoveMade),
		KeyAchievementAcquired: handle(a, KeyAchievementAcquired, a.AchievementAcquired),
	}
	for key, h := range handlers {
		if err := broker.Subscribe(ctx, topo.ChessBinding(key), h); err != nil {
			return fmt.Errorf("failed to subscribe to chess %s: %w", key, err)
		}
	}
	return nil
}

// handle decodes a chess message into T and runs fn, swallowing every
// failure.
func handle[T any](a *ChessAdapter, key string, fn func(context.Context, T) error) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		log := a.logger.WithFields(logrus.Fields{"routing_key": key, "message_id": msg.ID})

		var m T
		if err := msg.Decode(&m); err != nil {
			log.WithError(err).Warn("dropping undecodable chess message")
			return nil
		}
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = fn(ctx, m) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err != nil {
			log.WithError(err).Error("failed to process chess message")
		}
		return nil
	}
}

// seats holds the resolution result for both sides of a game.
type seats struct {
	white, black         uuid.UUID
	whiteOK, blackOK     bool
	whiteName, blackName string
}

func (a *ChessAdapter) resolveSeats(ctx context.Context, white, black string) seats {
	s := seats{whiteName: white, blackName: black}
	s.white, s.whiteOK = a.resolver.Resolve(ctx, white)
	s.black, s.blackOK = a.resolver.Resolve(ctx, black)
	return s
}

func (s seats) both() bool { return s.whiteOK && s.blackOK }

func (s seats) playerIDs() []uuid.UUID {
	if !s.both() {
		return []uuid.UUID{}
	}
	return []uuid.UUID{s.white, s.black}
}

func (s seats) configuration() map[string]any {
	return map[string]any{
		"whitePlayer":   s.whiteName,
		"blackPlayer":   s.blackName,
		"whitePlayerId": idOrUnknown(s.white, s.whiteOK),
		"blackPlayerId": idOrUnknown(s.black, s.blackOK),
	}
}

func idOrUnknown(id uuid.UUID, ok bool) string {
	if !ok {
		return messaging.UnknownMarker
	}
	return id.String()
}

// lobbyFor returns the lobby an external game was provisioned for, if any.
func (a *ChessAdapter) lobbyFor(ctx context.Context, externalID uuid.UUID) *uuid.UUID {
	if a.instances == nil {
		return nil
	}
	inst, err := a.instances.FindByExternalID(ctx, externalID)
	if err != nil {
		if !errors.Is(err, lobby.ErrInstanceNotFound) {
			a.logger.WithError(err).WithField("external_game_id", externalID).Warn("external instance lookup failed")
		}
		return nil
	}
	return messaging.IDPtr(inst.LobbyID)
}

func (a *ChessAdapter) newEvent(ctx context.Context, t messaging.EventType, gameID string) (messaging.LifecycleEvent, error) {
	sessionID := parseID(gameID)
	if sessionID == uuid.Nil {
		return messaging.LifecycleEvent{}, fmt.Errorf("invalid chess game id %q", gameID)
	}
	ev := messaging.NewEvent(t, sessionID)
	ev.LobbyID = a.lobbyFor(ctx, sessionID)
	ev.GameID = messaging.IDPtr(a.cfg.ChessGameID)
	ev.GameType = session.GameTypeChess
	return ev, nil
}

func (a *ChessAdapter) publish(ctx context.Context, routingKey string, ev messaging.LifecycleEvent) error {
	if err := a.broker.Publish(ctx, a.cfg.GameEventsExchange, routingKey, ev); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// GameCreated republishes a new chess game as SESSION_STARTED.
func (a *ChessAdapter) GameCreated(ctx context.Context, m ChessGameCreated) error {
	ev, err := a.newEvent(ctx, messaging.TypeSessionStarted, m.GameID)
	if err != nil {
		return err
	}
	s := a.resolveSeats(ctx, m.WhitePlayer, m.BlackPlayer)
	ev.PlayerIDs = s.playerIDs()
	if s.both() {
		ev.StartingPlayerID = messaging.IDPtr(s.white)
	}
	ev.Status = m.Status
	ev.Configuration = s.configuration()
	ev.Configuration["initialFen"] = orDefault(m.CurrentFEN, session.InitialChessFEN)
	ev.Configuration["status"] = m.Status

	log := a.logger.WithFields(logrus.Fields{
		"chess_game_id": ev.SessionID,
		"white":         m.WhitePlayer,
		"black":         m.BlackPlayer,
		"players_found": s.both(),
	})
	if !s.both() {
		log.Warn("could not resolve both chess players, publishing names only")
	}
	if err := a.publish(ctx, messaging.KeySessionStarted, ev); err != nil {
		return err
	}
	log.Info("republished chess game created")
	return nil
}

// GameUpdated only logs. There is no canonical event for renamed players.
func (a *ChessAdapter) GameUpdated(ctx context.Context, m ChessGameUpdated) error {
	s := a.resolveSeats(ctx, m.WhitePlayer, m.BlackPlayer)
	a.logger.WithFields(logrus.Fields{
		"chess_game_id": m.GameID,
		"update_type":   m.UpdateType,
		"white":         m.WhitePlayer,
		"white_id":      idOrUnknown(s.white, s.whiteOK),
		"black":         m.BlackPlayer,
		"black_id":      idOrUnknown(s.black, s.blackOK),
	}).Debug("chess player names updated")
	return nil
}

// GameEnded republishes a finished chess game as SESSION_ENDED. The winner
// is only set when both sides resolved.
func (a *ChessAdapter) GameEnded(ctx context.Context, m ChessGameEnded) error {
	ev, err := a.newEvent(ctx, messaging.TypeSessionEnded, m.GameID)
	if err != nil {
		return err
	}
	s := a.resolveSeats(ctx, m.WhitePlayer, m.BlackPlayer)
	ev.PlayerIDs = s.playerIDs()
	if s.both() {
		switch m.Winner {
		case ColorWhite:
			ev.WinnerID = messaging.IDPtr(s.white)
		case ColorBlack:
			ev.WinnerID = messaging.IDPtr(s.black)
		}
	}
	ev.Result = GameResult(m.EndReason, m.Winner)
	ev.Status = ResultFinished
	ev.Configuration = s.configuration()
	ev.Configuration["fen"] = m.FinalFEN
	ev.Configuration["totalMoves"] = m.TotalMoves
	ev.Configuration["endReason"] = m.EndReason
	ev.Configuration["winner"] = m.Winner

	if err := a.publish(ctx, messaging.KeySessionEnded, ev); err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{
		"chess_game_id": ev.SessionID,
		"result":        ev.Result,
		"winner":        m.Winner,
		"players_found": s.both(),
	}).Info("republished chess game ended")
	return nil
}

// MoveMade republishes a move as MOVE_REQUEST. An unresolved mover keeps
// the unknown marker in the configuration and no player_id.
func (a *ChessAdapter) MoveMade(ctx context.Context, m ChessMoveMade) error {
	ev, err := a.newEvent(ctx, messaging.TypeMoveRequest, m.GameID)
	if err != nil {
		return err
	}
	name := m.PlayerName()
	playerID, ok := a.resolver.Resolve(ctx, name)
	if ok {
		ev.PlayerID = messaging.IDPtr(playerID)
	} else {
		a.logger.WithFields(logrus.Fields{
			"chess_game_id": ev.SessionID,
			"player":        m.Player,
			"player_name":   name,
		}).Debug("could not resolve chess mover")
	}
	ev.Configuration = map[string]any{
		"fromSquare":   m.FromSquare,
		"toSquare":     m.ToSquare,
		"sanNotation":  m.SANNotation,
		"fenAfterMove": m.FENAfterMove,
		"player":       m.Player,
		"playerName":   name,
		"playerId":     idOrUnknown(playerID, ok),
		"moveNumber":   m.MoveNumber,
	}
	return a.publish(ctx, messaging.KeyMoveRequest, ev)
}

// GameRegistered records the achievements the chess service advertises.
func (a *ChessAdapter) GameRegistered(ctx context.Context, m ChessGameRegistered) error {
	defs := make([]achievements.Definition, 0, len(m.AvailableAchievements))
	for _, ach := range m.AvailableAchievements {
		defs = append(defs, achievements.Definition{
			Code:        ach.Code,
			Name:        ach.Code,
			Description: ach.Description,
		})
	}
	n, err := a.achievements.RegisterDefinitions(ctx, a.cfg.ChessGameID, defs)
	if err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{
		"registration_id": m.RegistrationID,
		"frontend_url":    m.FrontendURL,
		"achievements":    n,
	}).Info("chess game registered")
	return nil
}

// AchievementAcquired awards the achievement and republishes it as
// ACHIEVEMENT_UNLOCKED. The player id in the message wins over the name.
func (a *ChessAdapter) AchievementAcquired(ctx context.Context, m ChessAchievementAcquired) error {
	log := a.logger.WithFields(logrus.Fields{
		"chess_game_id": m.GameID,
		"achievement":   m.AchievementType,
	})
	playerID := parseID(m.PlayerID)
	if playerID == uuid.Nil {
		var ok bool
		if playerID, ok = a.resolver.Resolve(ctx, m.PlayerName); !ok {
			log.WithField("player_name", m.PlayerName).Warn("cannot award chess achievement, player unknown")
			return nil
		}
	}

	desc := orDefault(m.AchievementDescription, "Chess achievement: "+m.AchievementType)
	ach, _, err := a.achievements.AwardThirdParty(ctx, a.cfg.ChessGameID, playerID, achievements.Definition{
		Code:        m.AchievementType,
		Name:        m.AchievementType,
		Description: desc,
	})
	if err != nil {
		return err
	}

	ev, err := a.newEvent(ctx, messaging.TypeAchievementUnlocked, m.GameID)
	if err != nil {
		return err
	}
	ev.PlayerID = messaging.IDPtr(playerID)
	ev.PlayerIDs = []uuid.UUID{playerID}
	ev.Achievement = &messaging.AchievementInfo{
		ID:          ach.ID,
		Code:        ach.Code,
		Name:        ach.Name,
		Description: ach.Description,
	}
	if err := a.publish(ctx, messaging.KeyAchievementUnlocked, ev); err != nil {
		return err
	}
	log.WithField("player_id", playerID).Info("republished chess achievement")
	return nil
}
