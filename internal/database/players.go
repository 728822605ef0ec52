// internal/database/players.go
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/gamelobby/internal/players"
)

// PlayerRepository is the players.Directory over the users table. A
// player's rank is their 1v1 rating.
type PlayerRepository struct {
	db *pgxpool.Pool
}

var _ players.Directory = (*PlayerRepository)(nil)

func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) GetPlayer(ctx context.Context, id uuid.UUID) (players.Player, error) {
	var p players.Player
	err := r.db.QueryRow(ctx, `SELECT id, username, elo_1v1 FROM users WHERE id = $1`, id).
		Scan(&p.ID, &p.Username, &p.Rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, players.ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("failed to load player: %w", err)
	}
	return p, nil
}

func (r *PlayerRepository) SearchPlayers(ctx context.Context, query string, filter players.Filter, limit int) ([]players.Player, error) {
	if limit <= 0 {
		limit = 50
	}
	var maxRank *int
	if filter.MaxRank > 0 {
		maxRank = &filter.MaxRank
	}
	rows, err := r.db.Query(ctx, `
	SELECT id, username, elo_1v1
	FROM users
	WHERE username ILIKE '%' || $1 || '%'
	  AND elo_1v1 >= $2
	  AND ($3::int IS NULL OR elo_1v1 <= $3)
	ORDER BY username
	LIMIT $4`, escapeLike(strings.TrimSpace(query)), filter.MinRank, maxRank, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search players: %w", err)
	}
	defer rows.Close()

	out := []players.Player{}
	for rows.Next() {
		var p players.Player
		if err := rows.Scan(&p.ID, &p.Username, &p.Rank); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePlayer inserts a player row. Used by seeding and tests.
func (r *PlayerRepository) CreatePlayer(ctx context.Context, p players.Player) error {
	return pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO users (id, username, elo_1v1) VALUES ($1, $2, $3)`, p.ID, p.Username, p.Rank)
		return err
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
