// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/acl"
	"github.com/jason-s-yu/gamelobby/internal/config"
	"github.com/jason-s-yu/gamelobby/internal/database"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/handlers"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/jason-s-yu/gamelobby/internal/middleware"
	"github.com/jason-s-yu/gamelobby/internal/notify"
	"github.com/jason-s-yu/gamelobby/internal/players"
	"github.com/jason-s-yu/gamelobby/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

// stores are the persistence collaborators, backed by Postgres or memory.
type stores struct {
	lobbies      lobby.Store
	instances    lobby.InstanceStore
	achievements achievements.Store
	players      players.Directory
	close        func()
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (stores, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		logger.Warn("no database configured, using in-memory stores")
		return stores{
			lobbies:      lobby.NewMemoryStore(),
			instances:    lobby.NewMemoryInstanceStore(),
			achievements: achievements.NewMemoryStore(),
			players:      players.NewMemoryDirectory(),
			close:        func() {},
		}, nil
	}

	pool, err := database.ConnectDB(ctx, dsn, logger)
	if err != nil {
		return stores{}, err
	}
	if cfg.EnsureSchema {
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return stores{}, err
		}
	}
	return stores{
		lobbies:      database.NewLobbyRepository(pool),
		instances:    database.NewExternalInstanceRepository(pool),
		achievements: database.NewAchievementRepository(pool),
		players:      database.NewPlayerRepository(pool),
		close:        pool.Close,
	}, nil
}

func openBroker(ctx context.Context, cfg config.MessagingConfig, logger *logrus.Logger) (messaging.Broker, func(), error) {
	log := logger.WithField("broker", cfg.Broker)
	switch cfg.Broker {
	case config.BrokerRedis:
		rdb, err := messaging.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.ConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		b := messaging.NewRedisBroker(rdb, messaging.RedisOptions{MaxLen: cfg.RedisStreamMaxLen}, log)
		return b, func() { _ = rdb.Close() }, nil
	case config.BrokerNATS:
		b, err := messaging.ConnectNATS(ctx, messaging.NATSOptions{
			URL:            cfg.NATSURL,
			ConnectTimeout: cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	default:
		return messaging.NewMemoryBroker(log), func() {}, nil
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.close()

	broker, closeConn, err := openBroker(ctx, cfg.Messaging, logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer closeConn()
	defer broker.Close()

	topo := messaging.Topology{GameEvents: cfg.Messaging.GameEventsExchange, Chess: cfg.Messaging.ChessExchange}

	bus := events.NewBus(logger)
	lobbies := lobby.NewService(st.lobbies, bus, logger)
	achievementSvc := achievements.NewService(st.achievements, bus, logger)
	catalog := session.NewCatalog(cfg.Chess.GameID)

	session.NewRequestPublisher(broker, catalog, topo.GameEvents, logger).Register(bus)
	session.NewLobbyCleanup(lobbies, st.instances, logger).Register(bus)

	hub := notify.NewHub(logger)
	hub.Register(bus)

	if err := session.NewStartedConsumer(lobbies, logger).Subscribe(ctx, broker, topo); err != nil {
		return fmt.Errorf("subscribe session started: %w", err)
	}
	if err := session.NewEndedConsumer(lobbies, bus, logger).Subscribe(ctx, broker, topo); err != nil {
		return fmt.Errorf("subscribe session ended: %w", err)
	}
	feed := session.NewAchievementFeed(achievements.LoggingEvaluator{Logger: logger}, logger)
	if err := feed.Subscribe(ctx, broker, topo); err != nil {
		return fmt.Errorf("subscribe achievement feed: %w", err)
	}

	if cfg.Chess.Enabled {
		resolver := acl.NewDirectoryResolver(st.players, logger)
		adapter := acl.NewChessAdapter(broker, resolver, st.instances, achievementSvc, acl.AdapterConfig{
			GameEventsExchange: topo.GameEvents,
			ChessGameID:        cfg.Chess.GameID,
		}, logger)
		if err := adapter.Subscribe(ctx, broker, topo); err != nil {
			return fmt.Errorf("subscribe chess adapter: %w", err)
		}
		engine := acl.NewHTTPEngineClient(cfg.Chess.ServiceURL, cfg.Chess.Timeout, cfg.Chess.MaxRetry)
		acl.NewChessProvisioner(catalog, st.players, st.instances, engine, broker, acl.ProvisionerConfig{
			GameEventsExchange: topo.GameEvents,
			FrontendURL:        cfg.Chess.FrontendURL,
		}, logger).Register(bus)
		logger.WithField("chess_game_id", cfg.Chess.GameID).Info("chess ACL enabled")
	}

	reconciler := session.NewReconciler(st.lobbies, bus, session.ReconcilerConfig{
		Interval:     cfg.Sessions.ReconcileInterval,
		StartTimeout: cfg.Sessions.StartTimeout,
		MaxDuration:  cfg.Sessions.MaxDuration,
	}, logger)
	go reconciler.Run(ctx)

	api := &handlers.LobbyServer{
		Lobbies:      lobbies,
		Instances:    st.instances,
		Players:      st.players,
		Achievements: achievementSvc,
		Hub:          hub,
		Logger:       logger,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Identity(middleware.LogMiddleware(logger)(api.Routes())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
