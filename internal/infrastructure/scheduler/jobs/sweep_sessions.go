// Package jobs contains the scheduled jobs for the Hogwarts Productivity
// Hub: the periodic session sweep and the nightly day rollover.
package jobs

import (
	"context"
	"log/slog"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SweepSessionsJob settles everything past its deadline: expired grace
// windows and sessions whose presence signal went stale. It runs on a
// short interval; a run that finds nothing is free.
type SweepSessionsJob struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
}

// NewSweepSessionsJob creates the sweep job.
func NewSweepSessionsJob(tr *tracker.Tracker, logger *slog.Logger) *SweepSessionsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepSessionsJob{
		tracker: tr,
		logger:  logger,
	}
}

// Name returns the unique name of the job.
func (j *SweepSessionsJob) Name() string {
	return "sweep_sessions"
}

// Description returns a human-readable description of the job.
func (j *SweepSessionsJob) Description() string {
	return "Finalizes expired grace windows and stale sessions"
}

// Run executes one sweep pass.
func (j *SweepSessionsJob) Run(ctx context.Context) error {
	results := j.tracker.Sweep(ctx)
	if len(results) == 0 {
		return nil
	}

	finalized, estimated := 0, 0
	for _, r := range results {
		if r.Finalized {
			finalized++
		}
		if r.EstimatedClose {
			estimated++
		}
	}

	j.logger.Info("sweep settled sessions",
		"finalized", finalized,
		"estimated_closes", estimated,
	)
	return nil
}
