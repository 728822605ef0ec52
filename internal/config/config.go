// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Broker backends.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerNATS   = "nats"
)

// Config is the whole service configuration, read from the environment.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database  DatabaseConfig
	Messaging MessagingConfig
	Chess     ChessConfig
	Sessions  SessionConfig
}

// DatabaseConfig selects the Postgres instance. DATABASE_URL wins over the
// individual PG_* variables; with neither set the service runs in memory.
type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`
	User         string `env:"POSTGRES_USER"`
	Password     string `env:"POSTGRES_PASSWORD"`
	Host         string `env:"PG_HOST"`
	Port         string `env:"PG_PORT" envDefault:"5432"`
	Name         string `env:"PG_DATABASE"`
	EnsureSchema bool   `env:"DB_ENSURE_SCHEMA" envDefault:"true"`
}

// DSN returns the connection string, or "" when no database is configured.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Name,
	}
	return u.String()
}

type MessagingConfig struct {
	Broker             string        `env:"BROKER" envDefault:"memory"`
	RedisAddr          string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	RedisStreamMaxLen  int64         `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
	NATSURL            string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	ConnectTimeout     time.Duration `env:"BROKER_CONNECT_TIMEOUT" envDefault:"30s"`
	GameEventsExchange string        `env:"GAME_EVENTS_EXCHANGE" envDefault:"game_events"`
	ChessExchange      string        `env:"CHESS_EXCHANGE" envDefault:"gameExchange"`
}

type ChessConfig struct {
	Enabled     bool          `env:"ACL_ENABLED" envDefault:"true"`
	GameID      uuid.UUID     `env:"CHESS_GAME_ID" envDefault:"550e8400-e29b-41d4-a716-446655440002"`
	ServiceURL  string        `env:"CHESS_SERVICE_URL" envDefault:"http://localhost:8080"`
	FrontendURL string        `env:"CHESS_FRONTEND_URL" envDefault:"http://localhost:3333"`
	Timeout     time.Duration `env:"CHESS_HTTP_TIMEOUT" envDefault:"5s"`
	MaxRetry    time.Duration `env:"CHESS_HTTP_MAX_RETRY" envDefault:"10s"`
}

type SessionConfig struct {
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`
	StartTimeout      time.Duration `env:"SESSION_START_TIMEOUT" envDefault:"2m"`
	MaxDuration       time.Duration `env:"SESSION_MAX_DURATION" envDefault:"0s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Messaging.Broker = strings.ToLower(cfg.Messaging.Broker)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Messaging.Broker {
	case BrokerMemory, BrokerRedis, BrokerNATS:
	default:
		return fmt.Errorf("unknown BROKER %q", c.Messaging.Broker)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.Chess.GameID == uuid.Nil {
		return fmt.Errorf("CHESS_GAME_ID must not be empty")
	}
	return nil
}

// Logger returns a logrus logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
