package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDNIGHT ROLLOVER JOB
// ══════════════════════════════════════════════════════════════════════════════

// MidnightRolloverJob cuts every open session at the day boundary so
// yesterday's minutes are credited to yesterday and the sessions keep
// running into the new day. It is scheduled at 00:00 but always computes
// the boundary itself, so a delayed run still cuts at the real midnight.
type MidnightRolloverJob struct {
	tracker  *tracker.Tracker
	location *time.Location
	logger   *slog.Logger
}

// NewMidnightRolloverJob creates the rollover job for the given zone.
func NewMidnightRolloverJob(tr *tracker.Tracker, loc *time.Location, logger *slog.Logger) *MidnightRolloverJob {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MidnightRolloverJob{
		tracker:  tr,
		location: loc,
		logger:   logger,
	}
}

// Name returns the unique name of the job.
func (j *MidnightRolloverJob) Name() string {
	return "midnight_rollover"
}

// Description returns a human-readable description of the job.
func (j *MidnightRolloverJob) Description() string {
	return "Splits open sessions at the day boundary and seals completed days"
}

// Run executes the rollover for the boundary that just passed.
func (j *MidnightRolloverJob) Run(ctx context.Context) error {
	boundary := timeutil.StartOfDay(time.Now().In(j.location))

	report, err := j.tracker.RolloverDay(ctx, boundary)
	if err != nil && !tracker.IsPartialRollover(err) {
		return err
	}

	j.logger.Info("day rollover finished",
		"boundary", boundary.Format(time.RFC3339),
		"sessions_split", report.SessionsSplit,
		"stats_archived", report.StatsArchived,
		"failed_users", len(report.Failed),
	)

	// Partial failures were logged per user; the affected sessions keep
	// running uncut and settle on their eventual end.
	return nil
}
