// internal/achievements/service.go
package achievements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/sirupsen/logrus"
)

// Service records achievements reported by game services.
type Service struct {
	store  Store
	events events.Publisher
	logger logrus.FieldLogger
}

func NewService(store Store, publisher events.Publisher, logger logrus.FieldLogger) *Service {
	return &Service{store: store, events: publisher, logger: logger}
}

// RegisterDefinitions makes sure every advertised achievement exists for the
// game. It returns how many definitions were processed.
func (s *Service) RegisterDefinitions(ctx context.Context, gameID uuid.UUID, defs []Definition) (int, error) {
	n := 0
	for _, d := range defs {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			continue
		}
		name := d.Name
		if name == "" {
			name = code
		}
		if _, err := s.store.EnsureAchievement(ctx, Achievement{
			GameID:      gameID,
			Code:        code,
			Name:        name,
			Description: d.Description,
			ThirdParty:  true,
		}); err != nil {
			return n, fmt.Errorf("failed to register achievement %s: %w", code, err)
		}
		n++
	}
	return n, nil
}

// AwardThirdParty ensures the achievement exists and unlocks it for the
// player. Awarding an achievement the player already has is not an error;
// the boolean reports whether this call unlocked it.
func (s *Service) AwardThirdParty(ctx context.Context, gameID, playerID uuid.UUID, def Definition) (Achievement, bool, error) {
	if playerID == uuid.Nil {
		return Achievement{}, false, fmt.Errorf("cannot award %s: player id is required", def.Code)
	}
	if strings.TrimSpace(def.Code) == "" {
		return Achievement{}, false, fmt.Errorf("cannot award achievement without a code")
	}
	name := def.Name
	if name == "" {
		name = def.Code
	}
	a, err := s.store.EnsureAchievement(ctx, Achievement{
		GameID:      gameID,
		Code:        def.Code,
		Name:        name,
		Description: def.Description,
		ThirdParty:  true,
	})
	if err != nil {
		return Achievement{}, false, fmt.Errorf("failed to ensure achievement %s: %w", def.Code, err)
	}

	now := time.Now().UTC()
	unlocked, err := s.store.Unlock(ctx, playerID, a.ID, now)
	if err != nil {
		return a, false, fmt.Errorf("failed to unlock achievement %s: %w", def.Code, err)
	}
	if !unlocked {
		s.logger.WithFields(logrus.Fields{
			"player_id": playerID,
			"code":      a.Code,
		}).Debug("achievement already unlocked")
		return a, false, nil
	}

	s.logger.WithFields(logrus.Fields{
		"player_id": playerID,
		"game_id":   gameID,
		"code":      a.Code,
	}).Info("achievement unlocked")
	s.events.Publish(ctx, events.AchievementUnlocked{
		PlayerID:        playerID,
		GameID:          gameID,
		AchievementID:   a.ID,
		AchievementCode: a.Code,
		OccurredAt:      now,
	})
	return a, true, nil
}

// ListForPlayer returns the player's unlocks, oldest first.
func (s *Service) ListForPlayer(ctx context.Context, playerID uuid.UUID) ([]PlayerAchievement, error) {
	return s.store.ListForPlayer(ctx, playerID)
}

// LoggingEvaluator is the Evaluator used when no criteria engine is wired.
type LoggingEvaluator struct {
	Logger logrus.FieldLogger
}

func (e LoggingEvaluator) Evaluate(_ context.Context, game GameEndedContext) error {
	e.Logger.WithFields(logrus.Fields{
		"session_id": game.SessionID,
		"game_type":  game.GameType,
		"winner_id":  game.WinnerID,
		"players":    len(game.PlayerIDs),
	}).Info("game ended, no achievement criteria configured")
	return nil
}
