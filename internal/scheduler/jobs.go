package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// LoadReconciler recomputes each server's current_load from its actual
// connected-session count.
type LoadReconciler interface {
	ReconcileLoad(ctx context.Context) (int, error)
}

// SessionReconciler force-disconnects sessions whose heartbeat has gone
// stale.
type SessionReconciler interface {
	Reconcile(ctx context.Context, staleThreshold time.Duration) (int, error)
}

// Jobs contains the logic for the scheduled reconciliation tasks.
type Jobs struct {
	registry       LoadReconciler
	sessions       SessionReconciler
	staleThreshold time.Duration
	logger         *slog.Logger
}

// NewJobs constructs a Jobs runner.
func NewJobs(registry LoadReconciler, sessions SessionReconciler, staleThreshold time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		registry:       registry,
		sessions:       sessions,
		staleThreshold: staleThreshold,
		logger:         logger,
	}
}

// ReconcileServerLoad recomputes every server's current_load from its
// actual connected-session count, correcting drift from crashed
// disconnects that skipped the decrement step.
func (j *Jobs) ReconcileServerLoad() {
	j.logger.Info("starting server load reconciliation job")
	ctx := context.Background()

	n, err := j.registry.ReconcileLoad(ctx)
	if err != nil {
		j.logger.Error("failed to reconcile server load", "error", err)
		return
	}

	j.logger.Info("server load reconciliation job finished", "servers_updated", n)
}

// SweepStaleSessions force-disconnects sessions whose last heartbeat is
// older than the configured stale threshold.
func (j *Jobs) SweepStaleSessions() {
	j.logger.Info("starting stale session sweep job")
	ctx := context.Background()

	n, err := j.sessions.Reconcile(ctx, j.staleThreshold)
	if err != nil {
		j.logger.Error("failed to sweep stale sessions", "error", err)
		return
	}

	if n == 0 {
		j.logger.Info("no stale sessions found")
		return
	}

	j.logger.Info("stale session sweep job finished", "sessions_closed", n)
}
