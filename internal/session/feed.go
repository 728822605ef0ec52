// internal/session/feed.go
package session

import (
	"context"
	"time"

	"github.com/jason-s-yu/gamelobby/internal/achievements"
	"github.com/jason-s-yu/gamelobby/internal/messaging"
	"github.com/sirupsen/logrus"
)

// AchievementFeed hands finished sessions to achievement evaluation. It reads
// its own copy of session ended and does not depend on lobby cleanup having
// run.
type AchievementFeed struct {
	evaluator achievements.Evaluator
	logger    logrus.FieldLogger
}

func NewAchievementFeed(evaluator achievements.Evaluator, logger logrus.FieldLogger) *AchievementFeed {
	return &AchievementFeed{evaluator: evaluator, logger: logger}
}

func (f *AchievementFeed) Subscribe(ctx context.Context, broker messaging.Broker, topo messaging.Topology) error {
	return broker.Subscribe(ctx, topo.SessionEndedAchievementsBinding(), f.Handle)
}

func (f *AchievementFeed) Handle(ctx context.Context, msg messaging.Message) error {
	var n notice
	if err := msg.Decode(&n); err != nil {
		f.logger.WithError(err).Warn("dropping malformed session ended message")
		return nil
	}
	sessionID, err := n.sessionID()
	if err != nil {
		f.logger.WithError(err).Warn("dropping session ended message")
		return nil
	}
	gameID, _ := optionalID(n.GameID)
	winnerID, _ := optionalID(n.WinnerID)

	return f.evaluator.Evaluate(ctx, achievements.GameEndedContext{
		SessionID: sessionID,
		GameID:    gameID,
		GameType:  n.GameType,
		WinnerID:  winnerID,
		PlayerIDs: n.playerIDs(),
		Status:    n.Status,
		EndedAt:   time.Now().UTC(),
	})
}
