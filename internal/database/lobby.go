// internal/database/lobby.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
)

// LobbyRepository is the Postgres lobby.Store. Membership and invitations
// are stored as UUID arrays on the lobby row, so every save writes the whole
// aggregate under one version check.
type LobbyRepository struct {
	db *pgxpool.Pool
}

var _ lobby.Store = (*LobbyRepository)(nil)

func NewLobbyRepository(db *pgxpool.Pool) *LobbyRepository {
	return &LobbyRepository{db: db}
}

const lobbyColumns = `
	id, host_id, game_id, session_id, name, description,
	player_ids, status, max_players, visibility, invited_player_ids,
	created_at, started_at, version`

func scanLobby(row pgx.Row) (*lobby.Lobby, error) {
	var s lobby.Snapshot
	err := row.Scan(
		&s.ID, &s.HostID, &s.GameID, &s.SessionID, &s.Name, &s.Description,
		&s.PlayerIDs, &s.Status, &s.MaxPlayers, &s.Visibility, &s.InvitedPlayerIDs,
		&s.CreatedAt, &s.StartedAt, &s.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lobby.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return lobby.Restore(s), nil
}

func (r *LobbyRepository) queryOne(ctx context.Context, q string, args ...any) (*lobby.Lobby, error) {
	l, err := scanLobby(r.db.QueryRow(ctx, q, args...))
	if err != nil && !errors.Is(err, lobby.ErrNotFound) {
		return nil, fmt.Errorf("failed to load lobby: %w", err)
	}
	return l, err
}

func (r *LobbyRepository) queryMany(ctx context.Context, q string, args ...any) ([]*lobby.Lobby, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lobbies: %w", err)
	}
	defer rows.Close()

	out := []*lobby.Lobby{}
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lobby: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *LobbyRepository) FindByID(ctx context.Context, id uuid.UUID) (*lobby.Lobby, error) {
	return r.queryOne(ctx, `SELECT`+lobbyColumns+` FROM lobbies WHERE id = $1`, id)
}

func (r *LobbyRepository) FindBySessionID(ctx context.Context, sessionID uuid.UUID) (*lobby.Lobby, error) {
	return r.queryOne(ctx, `SELECT`+lobbyColumns+` FROM lobbies WHERE session_id = $1 LIMIT 1`, sessionID)
}

func (r *LobbyRepository) FindActiveByPlayer(ctx context.Context, playerID uuid.UUID) (*lobby.Lobby, error) {
	q := `SELECT` + lobbyColumns + `
	FROM lobbies
	WHERE $1 = ANY(player_ids) AND status NOT IN ($2, $3)
	ORDER BY created_at DESC
	LIMIT 1`
	return r.queryOne(ctx, q, playerID, lobby.StatusCancelled, lobby.StatusCompleted)
}

func (r *LobbyRepository) SearchOpen(ctx context.Context, filter lobby.SearchFilter, page lobby.Page) (lobby.Result, error) {
	page = page.Normalize()
	var gameID *uuid.UUID
	if filter.GameID != uuid.Nil {
		gameID = &filter.GameID
	}
	hostIDs := filter.HostIDs
	if hostIDs == nil {
		hostIDs = []uuid.UUID{}
	}

	where := `
	FROM lobbies
	WHERE status = $1 AND visibility = $2
	  AND ($3::uuid IS NULL OR game_id = $3)
	  AND (cardinality($4::uuid[]) = 0 OR host_id = ANY($4))`
	args := []any{lobby.StatusWaiting, lobby.VisibilityPublic, gameID, hostIDs}

	res := lobby.Result{Page: page, Lobbies: []*lobby.Lobby{}}
	if err := r.db.QueryRow(ctx, `SELECT count(*)`+where, args...).Scan(&res.Total); err != nil {
		return res, fmt.Errorf("failed to count lobbies: %w", err)
	}
	if res.Total == 0 {
		return res, nil
	}

	q := `SELECT` + lobbyColumns + where + `
	ORDER BY created_at DESC
	LIMIT $5 OFFSET $6`
	lobbies, err := r.queryMany(ctx, q, append(args, page.Size, page.Number*page.Size)...)
	if err != nil {
		return res, err
	}
	res.Lobbies = lobbies
	return res, nil
}

func (r *LobbyRepository) FindRunningSince(ctx context.Context, status lobby.Status, cutoff time.Time) ([]*lobby.Lobby, error) {
	q := `SELECT` + lobbyColumns + `
	FROM lobbies
	WHERE status = $1 AND started_at < $2
	ORDER BY started_at`
	return r.queryMany(ctx, q, status, cutoff)
}

// Save inserts a new lobby (version 0) or updates an existing one if its
// stored version still matches.
func (r *LobbyRepository) Save(ctx context.Context, l *lobby.Lobby) (*lobby.Lobby, error) {
	s := l.Snapshot()
	next := s.Version + 1

	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if s.Version == 0 {
			tag, err := tx.Exec(ctx, `
			INSERT INTO lobbies (`+lobbyColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
				s.ID, s.HostID, s.GameID, s.SessionID, s.Name, s.Description,
				s.PlayerIDs, s.Status, s.MaxPlayers, s.Visibility, s.InvitedPlayerIDs,
				s.CreatedAt, s.StartedAt, next,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return lobby.ErrConflict
			}
			return nil
		}

		tag, err := tx.Exec(ctx, `
		UPDATE lobbies SET
			game_id = $2, session_id = $3, name = $4, description = $5,
			player_ids = $6, status = $7, max_players = $8, visibility = $9,
			invited_player_ids = $10, started_at = $11, version = $12
		WHERE id = $1 AND version = $13`,
			s.ID, s.GameID, s.SessionID, s.Name, s.Description,
			s.PlayerIDs, s.Status, s.MaxPlayers, s.Visibility,
			s.InvitedPlayerIDs, s.StartedAt, next, s.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lobbies WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return lobby.ErrNotFound
		}
		return lobby.ErrConflict
	})
	if err != nil {
		if errors.Is(err, lobby.ErrConflict) || errors.Is(err, lobby.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save lobby %s: %w", s.ID, err)
	}

	s.Version = next
	return lobby.Restore(s), nil
}
