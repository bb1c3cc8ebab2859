package tracker

import (
	"context"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/stats"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

// finalizeLocked converts a session into a durable finalization: computes
// elapsed minutes at endAt, clamps anomalies, applies points through the
// store's idempotence guard and closes the open marker. Callers hold the
// shard lock and remain responsible for removing the session from the
// registry only after a nil return; on error the session stays tracked so
// a later retry can settle it.
func (t *Tracker) finalizeLocked(ctx context.Context, s *session.Session, endAt time.Time, estimated bool) (FinalizeResult, error) {
	return t.finalizeAsOf(ctx, s, endAt, timeutil.DateOf(endAt), estimated)
}

// finalizeAsOf is finalizeLocked with an explicit credit date. The
// midnight coordinator uses it to credit a split predecessor to the day
// that just ended rather than the day containing the boundary instant.
func (t *Tracker) finalizeAsOf(ctx context.Context, s *session.Session, endAt time.Time, date time.Time, estimated bool) (FinalizeResult, error) {
	minutes := s.ElapsedMinutesAt(endAt)

	anomaly := false
	switch {
	case endAt.Before(s.StartedAt):
		minutes = 0
		anomaly = true
	case t.cfg.MaxSessionMinutes > 0 && minutes > t.cfg.MaxSessionMinutes:
		minutes = t.cfg.MaxSessionMinutes
		anomaly = true
	}
	if anomaly {
		t.log.Warn("clock anomaly during finalize",
			logger.UserID(s.UserID.String()),
			logger.SessionID(s.ID.String()),
			logger.Time("started_at", s.StartedAt),
			logger.Time("end_at", endAt),
			logger.Minutes(minutes),
		)
	}

	points := t.cfg.Accrual.ComputePoints(minutes)

	f := stats.Finalization{
		SessionID:         s.ID.String(),
		UserID:            s.UserID.String(),
		RoomID:            s.RoomID.String(),
		Date:              date,
		Minutes:           minutes,
		Points:            points,
		SessionCountDelta: 1,
	}

	var applied bool
	err := t.retrier.Do(ctx, func(ctx context.Context) error {
		var applyErr error
		applied, applyErr = t.store.ApplyFinalize(ctx, f)
		return markRetryable(applyErr)
	})
	if err != nil {
		return FinalizeResult{}, shared.WrapError("session", "Finalize", shared.ErrStoreUnavailable,
			"finalize not applied, session retained for retry", err)
	}

	// Marker cleanup is best-effort: a leftover marker is re-finalized on
	// the next recovery pass and blocked there by the idempotence guard.
	if err := t.store.CloseSessionMarker(ctx, s.UserID); err != nil {
		t.log.Warn("close marker failed",
			logger.UserID(s.UserID.String()),
			logger.SessionID(s.ID.String()),
			logger.Err(err),
		)
	}

	// End only fails when the session is already terminal, which is fine
	// for re-finalizes of split or recovered sessions.
	_ = s.End()

	if !applied {
		// Some earlier attempt already credited this session.
		t.log.Debug("finalize skipped, already applied",
			logger.UserID(s.UserID.String()),
			logger.SessionID(s.ID.String()),
		)
		return FinalizeResult{
			SessionID: s.ID,
			UserID:    s.UserID,
			RoomID:    s.RoomID,
			Date:      date,
		}, nil
	}

	event := shared.NewSessionFinalizedEvent(
		s.UserID.String(), s.ID.String(), s.RoomID.String(),
		timeutil.DateString(date), minutes, points,
	)
	event.EstimatedClose = estimated
	event.ClockAnomaly = anomaly
	t.publish(event)

	t.log.Info("session finalized",
		logger.UserID(s.UserID.String()),
		logger.SessionID(s.ID.String()),
		logger.RoomID(s.RoomID.String()),
		logger.Date(timeutil.DateString(date)),
		logger.Minutes(minutes),
		logger.Points(points),
		logger.Bool("estimated", estimated),
	)

	return FinalizeResult{
		Finalized:      true,
		SessionID:      s.ID,
		UserID:         s.UserID,
		RoomID:         s.RoomID,
		Date:           date,
		Minutes:        minutes,
		Points:         points,
		EstimatedClose: estimated,
		ClockAnomaly:   anomaly,
	}, nil
}
