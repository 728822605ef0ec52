// internal/acl/provisioner.go
package acl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/jason-s-yu/gamelobby/internal/session"
	"github.com/sirupsen/logrus"
)

// chessSeats is the number of players a chess lobby needs.
const chessSeats = 2

// ProvisionerConfig configures ChessProvisioner.
type ProvisionerConfig struct {
	GameEventsExchange string
	// FrontendURL is the chess web client; games are served under /game/{id}.
	FrontendURL string
}

// ChessProvisioner creates external chess games for chess lobbies. The
// platform does not host chess, so instead of a session start request for
// the engine it mints an external game id, registers the players with the
// chess service and announces the session under that id.
type ChessProvisioner struct {
	catalog   *session.Catalog
	players   players.Directory
	instances lobby.InstanceStore
	engine    EngineClient
	broker    messaging.Broker
	cfg       ProvisionerConfig
	logger    logrus.FieldLogger
}

func NewChessProvisioner(
	catalog *session.Catalog,
	directory players.Directory,
	instances lobby.InstanceStore,
	engine EngineClient,
	broker messaging.Broker,
	cfg ProvisionerConfig,
	logger logrus.FieldLogger,
) *ChessProvisioner {
	if cfg.GameEventsExchange == "" {
		cfg.GameEventsExchange = messaging.DefaultGameEventsExchange
	}
	return &ChessProvisioner{
		catalog:   catalog,
		players:   directory,
		instances: instances,
		engine:    engine,
		broker:    broker,
		cfg:       cfg,
		logger:    logger.WithField("component", "chess-provisioner"),
	}
}

// Register subscribes to PlayerJoined and LobbyStarted.
func (p *ChessProvisioner) Register(bus *events.Bus) {
	events.Subscribe(bus, p.OnPlayerJoined)
	events.Subscribe(bus, p.OnLobbyStarted)
}

func (p *ChessProvisioner) isChess(gameID uuid.UUID) bool {
	return gameID != uuid.Nil && p.catalog.IsType(gameID, session.GameTypeChess)
}

// OnPlayerJoined preregisters the players as soon as a waiting chess lobby
// has both seats filled. Failures never affect the join.
func (p *ChessProvisioner) OnPlayerJoined(ctx context.Context, ev events.PlayerJoined) error {
	if !p.isChess(ev.GameID) || len(ev.PlayerIDs) != chessSeats || ev.Status != string(lobby.StatusWaiting) {
		return nil
	}
	log := p.logger.WithField("lobby_id", ev.LobbyID)

	if inst, err := p.instances.FindByLobbyID(ctx, ev.LobbyID); err == nil {
		log.WithField("chess_game_id", inst.ExternalGameID).Debug("chess game already preregistered")
		return nil
	} else if !errors.Is(err, lobby.ErrInstanceNotFound) {
		log.WithError(err).Error("failed to look up external game instance")
		return nil
	}

	seats, err := p.seats(ctx, ev.PlayerIDs)
	if err != nil {
		log.WithError(err).Error("failed to preregister chess players")
		return nil
	}
	chessGameID := uuid.New()
	if err := p.engine.PreregisterGame(ctx, chessGameID, seats); err != nil {
		log.WithError(err).WithField("chess_game_id", chessGameID).Error("failed to preregister chess players")
		return nil
	}
	inst, err := p.instances.Create(ctx, p.instance(ev.LobbyID, ev.GameID, chessGameID))
	if err != nil {
		log.WithError(err).Error("failed to store external game instance")
		return nil
	}
	log.WithFields(logrus.Fields{
		"chess_game_id": inst.ExternalGameID,
		"white":         seats.WhitePlayerName,
		"black":         seats.BlackPlayerName,
	}).Info("preregistered chess players")
	return nil
}

// OnLobbyStarted creates the chess game, reusing a preregistered id when
// there is one, and publishes the session start request.
func (p *ChessProvisioner) OnLobbyStarted(ctx context.Context, ev events.LobbyStarted) error {
	if !p.isChess(ev.GameID) {
		return nil
	}
	log := p.logger.WithFields(logrus.Fields{"lobby_id": ev.LobbyID, "game_id": ev.GameID})
	if len(ev.PlayerIDs) != chessSeats {
		log.WithField("players", len(ev.PlayerIDs)).Warn("chess needs exactly two players, not provisioning")
		return nil
	}

	seats, err := p.seats(ctx, ev.PlayerIDs)
	if err != nil {
		log.WithError(err).Error("failed to start chess game")
		return nil
	}

	inst, err := p.instances.FindByLobbyID(ctx, ev.LobbyID)
	switch {
	case errors.Is(err, lobby.ErrInstanceNotFound):
		inst, err = p.instances.Create(ctx, p.instance(ev.LobbyID, ev.GameID, uuid.New()))
		if err != nil {
			log.WithError(err).Error("failed to store external game instance")
			return nil
		}
	case err != nil:
		log.WithError(err).Error("failed to look up external game instance")
		return nil
	default:
		log.WithField("chess_game_id", inst.ExternalGameID).Info("using preregistered chess game")
	}
	log = log.WithField("chess_game_id", inst.ExternalGameID)

	if err := p.engine.CreateGame(ctx, inst.ExternalGameID, seats); err != nil {
		log.WithError(err).Error("failed to create chess game")
		return nil
	}

	req := p.startRequest(ev, inst.ExternalGameID, seats)
	if err := p.broker.Publish(ctx, p.cfg.GameEventsExchange, messaging.KeySessionStartRequested, req); err != nil {
		log.WithError(err).Error("failed to publish chess session start request")
		return nil
	}
	log.WithFields(logrus.Fields{
		"white": seats.WhitePlayerName,
		"black": seats.BlackPlayerName,
	}).Info("chess game session requested")
	return nil
}

// seats loads both players. The first member plays white.
func (p *ChessProvisioner) seats(ctx context.Context, ids []uuid.UUID) (Seats, error) {
	white, err := p.players.GetPlayer(ctx, ids[0])
	if err != nil {
		return Seats{}, fmt.Errorf("player 1 %s: %w", ids[0], err)
	}
	black, err := p.players.GetPlayer(ctx, ids[1])
	if err != nil {
		return Seats{}, fmt.Errorf("player 2 %s: %w", ids[1], err)
	}
	return Seats{
		WhitePlayerID:   white.ID,
		WhitePlayerName: white.Username,
		BlackPlayerID:   black.ID,
		BlackPlayerName: black.Username,
	}, nil
}

func (p *ChessProvisioner) instance(lobbyID, gameID, chessGameID uuid.UUID) lobby.ExternalGameInstance {
	return lobby.ExternalGameInstance{
		ID:             uuid.New(),
		LobbyID:        lobbyID,
		GameID:         gameID,
		GameType:       session.GameTypeChess,
		ExternalGameID: chessGameID,
		CreatedAt:      time.Now().UTC(),
	}
}

func (p *ChessProvisioner) startRequest(ev events.LobbyStarted, chessGameID uuid.UUID, seats Seats) messaging.LifecycleEvent {
	req := messaging.NewEvent(messaging.TypeSessionStartRequested, chessGameID)
	req.LobbyID = messaging.IDPtr(ev.LobbyID)
	req.GameID = messaging.IDPtr(ev.GameID)
	req.GameType = session.GameTypeChess
	req.PlayerIDs = []uuid.UUID{seats.WhitePlayerID, seats.BlackPlayerID}
	req.StartingPlayerID = messaging.IDPtr(seats.WhitePlayerID)
	req.Configuration = map[string]any{
		"whitePlayer":    seats.WhitePlayerName,
		"blackPlayer":    seats.BlackPlayerName,
		"whitePlayerId":  seats.WhitePlayerID.String(),
		"blackPlayerId":  seats.BlackPlayerID.String(),
		"initialFen":     session.InitialChessFEN,
		"status":         "ACTIVE",
		"externalGameId": chessGameID.String(),
	}
	if p.cfg.FrontendURL != "" {
		req.Configuration["frontendUrl"] = strings.TrimRight(p.cfg.FrontendURL, "/") + "/game/" + chessGameID.String()
	}
	return req
}
