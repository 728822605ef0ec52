// internal/database/schema.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	elo_1v1    INTEGER NOT NULL DEFAULT 1500,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lobbies (
	id                 UUID PRIMARY KEY,
	host_id            UUID NOT NULL,
	game_id            UUID,
	session_id         UUID,
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	player_ids         UUID[] NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL,
	max_players        INTEGER NOT NULL,
	visibility         TEXT NOT NULL,
	invited_player_ids UUID[] NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	version            BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS lobbies_session_id_idx ON lobbies (session_id) WHERE session_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS lobbies_player_ids_idx ON lobbies USING GIN (player_ids);
CREATE INDEX IF NOT EXISTS lobbies_open_idx ON lobbies (created_at DESC) WHERE status = 'WAITING' AND visibility = 'PUBLIC';

CREATE TABLE IF NOT EXISTS external_game_instances (
	id                 UUID PRIMARY KEY,
	lobby_id           UUID NOT NULL UNIQUE,
	game_id            UUID NOT NULL,
	external_game_type TEXT NOT NULL,
	external_game_id   UUID NOT NULL UNIQUE,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS achievements (
	id          UUID PRIMARY KEY,
	game_id     UUID NOT NULL,
	code        TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	third_party BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (game_id, code)
);

CREATE TABLE IF NOT EXISTS player_achievements (
	player_id      UUID NOT NULL,
	achievement_id UUID NOT NULL REFERENCES achievements (id),
	unlocked_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (player_id, achievement_id)
);
`

// EnsureSchema creates the tables this service needs if they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	err := pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
