// internal/database/external.go
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

// ExternalInstanceRepository is the Postgres lobby.InstanceStore.
type ExternalInstanceRepository struct {
	db *pgxpool.Pool
}

var _ lobby.InstanceStore = (*ExternalInstanceRepository)(nil)

func NewExternalInstanceRepository(db *pgxpool.Pool) *ExternalInstanceRepository {
	return &ExternalInstanceRepository{db: db}
}

const instanceColumns = `id, lobby_id, game_id, external_game_type, external_game_id, created_at`

func scanInstance(row pgx.Row) (lobby.ExternalGameInstance, error) {
	var inst lobby.ExternalGameInstance
	err := row.Scan(&inst.ID, &inst.LobbyID, &inst.GameID, &inst.GameType, &inst.ExternalGameID, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inst, lobby.ErrInstanceNotFound
	}
	if err != nil {
		return inst, fmt.Errorf("failed to load external game instance: %w", err)
	}
	return inst, nil
}

// Create inserts the mapping, or returns the one the lobby already has.
func (r *ExternalInstanceRepository) Create(ctx context.Context, inst lobby.ExternalGameInstance) (lobby.ExternalGameInstance, error) {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	var out lobby.ExternalGameInstance
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
		INSERT INTO external_game_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (lobby_id) DO NOTHING`,
			inst.ID, inst.LobbyID, inst.GameID, inst.GameType, inst.ExternalGameID, inst.CreatedAt,
		)
		if err != nil {
			return err
		}
		out, err = scanInstance(tx.QueryRow(ctx,
			`SELECT `+instanceColumns+` FROM external_game_instances WHERE lobby_id = $1`, inst.LobbyID))
		return err
	})
	if err != nil {
		return lobby.ExternalGameInstance{}, fmt.Errorf("failed to store external game instance: %w", err)
	}
	return out, nil
}

func (r *ExternalInstanceRepository) FindByLobbyID(ctx context.Context, lobbyID uuid.UUID) (lobby.ExternalGameInstance, error) {
	return scanInstance(r.db.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM external_game_instances WHERE lobby_id = $1`, lobbyID))
}

func (r *ExternalInstanceRepository) FindByExternalID(ctx context.Context, externalID uuid.UUID) (lobby.ExternalGameInstance, error) {
	return scanInstance(r.db.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM external_game_instances WHERE external_game_id = $1`, externalID))
}

func (r *ExternalInstanceRepository) DeleteByLobbyID(ctx context.Context, lobbyID uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM external_game_instances WHERE lobby_id = $1`, lobbyID)
		return err
	})
}
