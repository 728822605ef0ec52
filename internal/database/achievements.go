// internal/database/achievements.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/gamelobby/internal/achievements"
)

// AchievementRepository is the Postgres achievements.Store.
type AchievementRepository struct {
	db *pgxpool.Pool
}

var _ achievements.Store = (*AchievementRepository)(nil)

func NewAchievementRepository(db *pgxpool.Pool) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// EnsureAchievement inserts the definition unless (game_id, code) exists and
// returns the stored row either way.
func (r *AchievementRepository) EnsureAchievement(ctx context.Context, a achievements.Achievement) (achievements.Achievement, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var out achievements.Achievement
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
		INSERT INTO achievements (id, game_id, code, name, description, third_party, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id, code) DO NOTHING`,
			a.ID, a.GameID, a.Code, a.Name, a.Description, a.ThirdParty, a.CreatedAt,
		)
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
		SELECT id, game_id, code, name, description, third_party, created_at
		FROM achievements WHERE game_id = $1 AND code = $2`, a.GameID, a.Code).Scan(
			&out.ID, &out.GameID, &out.Code, &out.Name, &out.Description, &out.ThirdParty, &out.CreatedAt,
		)
	})
	if err != nil {
		return achievements.Achievement{}, fmt.Errorf("failed to ensure achievement: %w", err)
	}
	return out, nil
}

func (r *AchievementRepository) Unlock(ctx context.Context, playerID, achievementID uuid.UUID, at time.Time) (bool, error) {
	var unlocked bool
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		INSERT INTO player_achievements (player_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, achievement_id) DO NOTHING`, playerID, achievementID, at)
		if err != nil {
			return err
		}
		unlocked = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to unlock achievement: %w", err)
	}
	return unlocked, nil
}

func (r *AchievementRepository) ListForPlayer(ctx context.Context, playerID uuid.UUID) ([]achievements.PlayerAchievement, error) {
	rows, err := r.db.Query(ctx, `
	SELECT a.id, a.game_id, a.code, a.name, a.description, a.third_party, a.created_at, pa.unlocked_at
	FROM player_achievements pa
	JOIN achievements a ON a.id = pa.achievement_id
	WHERE pa.player_id = $1
	ORDER BY pa.unlocked_at`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	out := []achievements.PlayerAchievement{}
	for rows.Next() {
		pa := achievements.PlayerAchievement{PlayerID: playerID}
		a := &pa.Achievement
		if err := rows.Scan(&a.ID, &a.GameID, &a.Code, &a.Name, &a.Description, &a.ThirdParty, &a.CreatedAt, &pa.UnlockedAt); err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}
