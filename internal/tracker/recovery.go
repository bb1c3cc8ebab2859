package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
)

// RecoveryReport summarizes one startup reconciliation.
type RecoveryReport struct {
	// Rebuilt counts sessions reconstructed from markers for users still
	// present in the same room.
	Rebuilt int

	// Capped counts rebuilds whose pre-restart credit hit
	// MaxRecoverableGap.
	Capped int

	// EstimatedCloses counts markers finalized with a reconstructed end
	// time because the user was gone or had moved rooms.
	EstimatedCloses int

	// FreshStarts counts present users with no usable marker who got a
	// brand-new session.
	FreshStarts int

	// Failed lists users whose reconciliation errored. Their markers stay
	// in the store for the next recovery pass.
	Failed []session.UserID
}

// Recover reconciles durable open markers against the live presence
// snapshot after a restart. The engine must not run before this has
// completed: sessions opened in between would collide with rebuilt ones.
//
// Only an unreachable store is fatal. Per-user failures are collected,
// logged, and reported; everyone else recovers normally.
func (t *Tracker) Recover(ctx context.Context, presence PresenceSource) (*RecoveryReport, error) {
	now := t.clock.Now()
	report := &RecoveryReport{}

	markers, err := t.store.QueryOpenMarkers(ctx)
	if err != nil {
		// Nothing can be reconciled without the marker set. Running
		// anyway would silently drop every crash-left session.
		return nil, shared.WrapError("recovery", "Run", shared.ErrStoreUnavailable,
			"cannot load open markers", err)
	}

	present := map[session.UserID]PresenceEntry{}
	if presence != nil {
		entries, err := presence.CurrentlyPresent(ctx)
		if err != nil {
			// A dead presence source means every marker holder looks
			// absent; their sessions get estimated closes, which is the
			// conservative outcome.
			t.log.Warn("presence snapshot unavailable, treating all marker holders as absent",
				logger.Err(err),
			)
		}
		for _, e := range entries {
			present[e.UserID] = e
		}
	}

	for _, marker := range markers {
		entry, isPresent := present[marker.UserID]
		delete(present, marker.UserID)

		switch {
		case isPresent && entry.RoomID == marker.RoomID:
			if err := t.rebuildFromMarker(ctx, marker, now, report); err != nil {
				report.Failed = append(report.Failed, marker.UserID)
			}

		case isPresent:
			// Moved rooms while we were down: settle the old room's
			// session and start fresh in the new one.
			if err := t.settleMarker(ctx, marker, report); err != nil {
				report.Failed = append(report.Failed, marker.UserID)
				continue
			}
			if _, err := t.StartSession(ctx, marker.UserID, entry.RoomID, entry.RoomLabel); err != nil {
				report.Failed = append(report.Failed, marker.UserID)
				continue
			}
			report.FreshStarts++

		default:
			// Gone. The last heartbeat is the best close estimate we have.
			if err := t.settleMarker(ctx, marker, report); err != nil {
				report.Failed = append(report.Failed, marker.UserID)
			}
		}
	}

	// Present users without any marker simply start now. Their
	// pre-restart time, if any, was never durably observed.
	for _, entry := range present {
		if _, err := t.StartSession(ctx, entry.UserID, entry.RoomID, entry.RoomLabel); err != nil {
			report.Failed = append(report.Failed, entry.UserID)
			continue
		}
		report.FreshStarts++
	}

	t.log.Info("recovery complete",
		logger.Int("rebuilt", report.Rebuilt),
		logger.Int("capped", report.Capped),
		logger.Int("estimated_closes", report.EstimatedCloses),
		logger.Int("fresh_starts", report.FreshStarts),
		logger.Int("failed", len(report.Failed)),
	)

	if len(report.Failed) > 0 {
		return report, shared.ErrRecoveryPartialFailure
	}
	return report, nil
}

// IsPartialRecovery reports whether a Recover error means some users
// failed to reconcile while the rest of the pass succeeded. Their markers
// stay put and are retried on the next restart.
func IsPartialRecovery(err error) bool {
	return errors.Is(err, shared.ErrRecoveryPartialFailure)
}

// rebuildFromMarker reconstructs a live session for a user who is still in
// the marker's room. The effective start is capped so a long-stale marker
// cannot mint an unbounded backlog of minutes.
func (t *Tracker) rebuildFromMarker(ctx context.Context, marker session.OpenMarker, now time.Time, report *RecoveryReport) error {
	effectiveStart := marker.StartedAt
	capped := false
	if t.cfg.MaxRecoverableGap > 0 {
		floor := now.Add(-t.cfg.MaxRecoverableGap)
		if effectiveStart.Before(floor) {
			effectiveStart = floor
			capped = true
		}
	}

	s, err := session.Rebuild(marker.SessionID, marker.UserID, marker.RoomID, marker.RoomLabel,
		effectiveStart, now)
	if err != nil {
		return shared.WrapError("recovery", "Rebuild", shared.ErrInvalidInput, "marker is unusable", err)
	}

	sh := t.shardFor(marker.UserID)
	sh.mu.Lock()
	sh.active[marker.UserID] = s
	sh.mu.Unlock()

	if err := t.store.TouchSessionMarker(ctx, marker.UserID, now); err != nil {
		t.log.Debug("marker heartbeat failed",
			logger.UserID(marker.UserID.String()),
			logger.Err(err),
		)
	}

	report.Rebuilt++
	if capped {
		report.Capped++
	}
	t.publish(shared.NewSessionRecoveredEvent(
		marker.UserID.String(), marker.SessionID.String(), marker.RoomID.String(), capped,
	))
	t.log.Info("session recovered",
		logger.UserID(marker.UserID.String()),
		logger.SessionID(marker.SessionID.String()),
		logger.RoomID(marker.RoomID.String()),
		logger.Bool("capped", capped),
	)
	return nil
}

// settleMarker finalizes a crash-left marker with an estimated close at
// its last heartbeat. The idempotence guard makes this safe even when the
// process crashed between crediting and marker cleanup.
func (t *Tracker) settleMarker(ctx context.Context, marker session.OpenMarker, report *RecoveryReport) error {
	// The last heartbeat is the estimate; the finalize anomaly clamp
	// bounds whatever the marker claims.
	endAt := marker.LastHeartbeatAt
	if endAt.Before(marker.StartedAt) {
		endAt = marker.StartedAt
	}

	s, err := session.Rebuild(marker.SessionID, marker.UserID, marker.RoomID, marker.RoomLabel,
		marker.StartedAt, endAt)
	if err != nil {
		return shared.WrapError("recovery", "Settle", shared.ErrInvalidInput, "marker is unusable", err)
	}

	sh := t.shardFor(marker.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, err := t.finalizeLocked(ctx, s, endAt, true); err != nil {
		return err
	}
	report.EstimatedCloses++
	return nil
}
