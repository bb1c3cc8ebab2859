package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

// RolloverReport summarizes one midnight rollover run.
type RolloverReport struct {
	// Boundary is the calendar-day boundary the rollover was cut at.
	Boundary time.Time

	// SessionsSplit counts open sessions that were split across the
	// boundary.
	SessionsSplit int

	// StatsArchived counts prior-day rows sealed by the bulk archive.
	StatsArchived int

	// Failed lists users whose split could not be completed. Their
	// sessions keep running uncut; the next rollover or finalize settles
	// them.
	Failed []session.UserID
}

// RolloverDay cuts every open session at the day boundary: the portion
// before midnight is finalized and credited to the day that ended, and a
// successor session continues seamlessly from the boundary in the same
// state. Grace holds survive the cut. Afterwards every completed day's
// stat rows are sealed.
//
// Failures are collected per user rather than aborting the run, so one
// bad session cannot leave every other user's day unsplit.
func (t *Tracker) RolloverDay(ctx context.Context, boundary time.Time) (*RolloverReport, error) {
	report := &RolloverReport{Boundary: boundary}
	yesterday := timeutil.DateOf(boundary.Add(-time.Minute))

	for _, sh := range t.shards {
		sh.mu.Lock()

		for userID, s := range sh.active {
			successor, ok := t.splitOneLocked(ctx, s, boundary, yesterday)
			if !ok {
				report.Failed = append(report.Failed, userID)
				continue
			}
			if successor.ID == s.ID {
				// Opened at or after the boundary; nothing was split.
				continue
			}
			sh.active[userID] = successor
			report.SessionsSplit++
		}

		for userID, entry := range sh.grace {
			// A session held before midnight and still inside its window
			// splits too: yesterday gets the held credit, the successor
			// carries the hold so a rejoin after midnight still resumes.
			successor, ok := t.splitOneLocked(ctx, entry.Session, boundary, yesterday)
			if !ok {
				report.Failed = append(report.Failed, userID)
				continue
			}
			if successor.ID == entry.Session.ID {
				continue
			}
			sh.grace[userID] = &session.GraceEntry{
				Session:   successor,
				HeldAt:    entry.HeldAt,
				ExpiresAt: entry.ExpiresAt,
			}
			report.SessionsSplit++
		}

		sh.mu.Unlock()
	}

	// Seal every completed day, including days of users who had no open
	// session at the boundary.
	archived, err := t.store.ArchiveDailyStatsBefore(ctx, timeutil.DateOf(boundary))
	if err != nil {
		t.log.Warn("bulk archive failed",
			logger.Date(timeutil.DateString(boundary)),
			logger.Err(err),
		)
	}
	report.StatsArchived = archived

	t.publish(shared.NewDayRolledOverEvent(timeutil.DateString(boundary), report.SessionsSplit))
	t.log.Info("day rolled over",
		logger.Date(timeutil.DateString(boundary)),
		logger.Int("sessions_split", report.SessionsSplit),
		logger.Int("stats_archived", report.StatsArchived),
		logger.Int("failed", len(report.Failed)),
	)

	if len(report.Failed) > 0 {
		return report, shared.ErrRecoveryPartialFailure
	}
	return report, nil
}

// splitOneLocked splits a single open session at the boundary and settles
// the prior-day portion. A session opened at or after the boundary is
// returned unchanged; callers detect that by the unchanged ID. A false
// return means the user must be retried later, and the original session
// is left untouched in the registry.
func (t *Tracker) splitOneLocked(ctx context.Context, s *session.Session, boundary time.Time, yesterday time.Time) (*session.Session, bool) {
	if !s.StartedAt.Before(boundary) {
		// Opened at or after the boundary already; nothing to split.
		return s, true
	}

	// Split a copy so a failed settle leaves the original running uncut;
	// its full span is then credited on whichever day it finally ends.
	predecessor := *s
	successor, _, err := predecessor.SplitAt(boundary, newSessionID())
	if err != nil {
		t.log.Error("session split failed",
			logger.UserID(s.UserID.String()),
			logger.SessionID(s.ID.String()),
			logger.Err(err),
		)
		return nil, false
	}

	// Credit yesterday under the predecessor's ID so a crashed and
	// re-run rollover cannot double-credit.
	if _, err := t.finalizeAsOf(ctx, &predecessor, boundary, yesterday, false); err != nil {
		t.log.Error("prior-day finalize failed, rollover deferred",
			logger.UserID(s.UserID.String()),
			logger.SessionID(s.ID.String()),
			logger.Err(err),
		)
		return nil, false
	}

	marker := session.OpenMarker{
		SessionID:       successor.ID,
		UserID:          successor.UserID,
		RoomID:          successor.RoomID,
		RoomLabel:       successor.RoomLabel,
		StartedAt:       successor.StartedAt,
		LastHeartbeatAt: successor.LastHeartbeatAt,
	}
	if err := t.store.OpenSessionMarker(ctx, marker); err != nil {
		t.log.Warn("successor marker write failed",
			logger.UserID(successor.UserID.String()),
			logger.SessionID(successor.ID.String()),
			logger.Err(err),
		)
	}

	if err := t.store.EnsureDailyStat(ctx, successor.UserID, timeutil.DateOf(boundary)); err != nil {
		t.log.Warn("fresh daily stat write failed",
			logger.UserID(successor.UserID.String()),
			logger.Err(err),
		)
	}

	return successor, true
}

// IsPartialRollover reports whether err is the partial-failure marker
// returned when some users could not be split.
func IsPartialRollover(err error) bool {
	return errors.Is(err, shared.ErrRecoveryPartialFailure)
}
