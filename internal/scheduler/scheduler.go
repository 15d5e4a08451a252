// Package scheduler runs the periodic reconciliation jobs: server load
// reconciliation (SR) and the stale-session sweep (SM), using
// cron.WithChain(cron.Recover) so a panicking job never kills the
// process.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job, supplied by the
// caller (cmd/server passes fixed "@every" expressions).
type Schedules struct {
	ReconcileLoadSchedule    string
	StaleSessionSweepSchedule string
}

// Scheduler owns the cron runtime and the job set.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler constructs a Scheduler with a slog-backed cron logger and
// panic recovery around every job.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Scheduler{cron: c, jobs: jobs, logger: logger, schedules: schedules}
}

// Start registers the jobs and starts the cron runtime.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedules.ReconcileLoadSchedule, s.jobs.ReconcileServerLoad); err != nil {
		s.logger.Error("failed to schedule server load reconciliation job", "error", err)
	} else {
		s.logger.Info("scheduled server load reconciliation job", "schedule", s.schedules.ReconcileLoadSchedule)
	}

	if _, err := s.cron.AddFunc(s.schedules.StaleSessionSweepSchedule, s.jobs.SweepStaleSessions); err != nil {
		s.logger.Error("failed to schedule stale session sweep job", "error", err)
	} else {
		s.logger.Info("scheduled stale session sweep job", "schedule", s.schedules.StaleSessionSweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron runtime, returning a context that is
// done once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
