// internal/session/reconciler.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/gamelobby/internal/events"
	"github.com/jason-s-yu/gamelobby/internal/lobby"
	"github.com/sirupsen/logrus"
)

// ReconcilerConfig controls the stuck-lobby sweep.
type ReconcilerConfig struct {
	Interval time.Duration
	// StartTimeout is how long a lobby may stay STARTED without a bound
	// session.
	StartTimeout time.Duration
	// MaxDuration caps how long a lobby may stay IN_PROGRESS. Zero disables
	// the check.
	MaxDuration time.Duration
}

// Reconciler finds lobbies whose session start or end message never arrived
// and raises GameEnded for them, so the normal cleanup path resets them.
type Reconciler struct {
	store  lobby.Store
	events events.Publisher
	cfg    ReconcilerConfig
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewReconciler(store lobby.Store, publisher events.Publisher, cfg ReconcilerConfig, logger logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store:  store,
		events: publisher,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 || r.cfg.StartTimeout <= 0 {
		r.logger.Info("lobby reconciliation disabled")
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.WithError(err).Error("lobby reconciliation failed")
			} else if n > 0 {
				r.logger.WithField("lobbies", n).Info("reconciled stuck lobbies")
			}
		}
	}
}

// Sweep runs one pass and returns how many lobbies were released.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	released := 0

	stuck, err := r.store.FindRunningSince(ctx, lobby.StatusStarted, now.Add(-r.cfg.StartTimeout))
	if err != nil {
		return 0, fmt.Errorf("failed to find lobbies stuck in STARTED: %w", err)
	}
	for _, l := range stuck {
		r.release(ctx, l, "session start timed out")
		released++
	}

	if r.cfg.MaxDuration > 0 {
		overdue, err := r.store.FindRunningSince(ctx, lobby.StatusInProgress, now.Add(-r.cfg.MaxDuration))
		if err != nil {
			return released, fmt.Errorf("failed to find overdue lobbies: %w", err)
		}
		for _, l := range overdue {
			r.release(ctx, l, "session exceeded maximum duration")
			released++
		}
	}
	return released, nil
}

func (r *Reconciler) release(ctx context.Context, l *lobby.Lobby, reason string) {
	startedAt, _ := l.StartedAt()
	r.logger.WithFields(logrus.Fields{
		"lobby_id":   l.ID(),
		"session_id": l.SessionID(),
		"status":     l.Status(),
		"started_at": startedAt,
	}).Warn(reason)
	r.events.Publish(ctx, events.GameEnded{
		LobbyID:           l.ID(),
		SessionID:         l.SessionID(),
		Abandoned:         true,
		Reason:            reason,
		OccurredAt:        r.now(),
		ObservedStatus:    string(l.Status()),
		ObservedStartedAt: startedAt,
	})
}
