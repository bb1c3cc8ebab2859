package tracker

import (
	"context"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
)

// Sweep walks the registry and settles everything past its deadline:
// grace entries whose window elapsed finalize with credit up to the leave
// instant, and Active sessions whose heartbeat went stale past
// StaleThreshold finalize with an estimated close at the last heartbeat.
//
// Entries are removed only after their finalize succeeds, so a sweep that
// hits a store outage leaves them in place and the next sweep retries.
// The idempotence guard makes the retry safe.
func (t *Tracker) Sweep(ctx context.Context) []FinalizeResult {
	now := t.clock.Now()
	var results []FinalizeResult

	for _, sh := range t.shards {
		sh.mu.Lock()

		for userID, entry := range sh.grace {
			if !entry.Expired(now) {
				continue
			}
			res, err := t.finalizeLocked(ctx, entry.Session, entry.FinalizeAt(), false)
			if err != nil {
				t.log.Warn("grace sweep finalize failed",
					logger.UserID(userID.String()),
					logger.SessionID(entry.Session.ID.String()),
					logger.Err(err),
				)
				continue
			}
			delete(sh.grace, userID)
			t.publish(shared.NewSessionSweptEvent(
				userID.String(),
				entry.Session.ID.String(),
				entry.Session.RoomID.String(),
				shared.SweepReasonGraceExpired,
			))
			results = append(results, res)
		}

		if t.cfg.StaleThreshold > 0 {
			for userID, s := range sh.active {
				if now.Sub(s.LastHeartbeatAt) < t.cfg.StaleThreshold {
					continue
				}
				res, err := t.sweepStaleLocked(ctx, s)
				if err != nil {
					t.log.Warn("stale sweep finalize failed",
						logger.UserID(userID.String()),
						logger.SessionID(s.ID.String()),
						logger.Err(err),
					)
					continue
				}
				delete(sh.active, userID)
				t.publish(shared.NewSessionSweptEvent(
					userID.String(),
					s.ID.String(),
					s.RoomID.String(),
					shared.SweepReasonStale,
				))
				results = append(results, res)
			}
		}

		sh.mu.Unlock()
	}

	if len(results) > 0 {
		t.log.Info("sweep settled sessions", logger.Int("count", len(results)))
	}
	return results
}

// sweepStaleLocked closes a session whose presence signal went dark
// without a leave event. The last heartbeat is the best end estimate;
// crediting up to it instead of now keeps a dead connection from
// accruing points indefinitely.
func (t *Tracker) sweepStaleLocked(ctx context.Context, s *session.Session) (FinalizeResult, error) {
	endAt := s.LastHeartbeatAt
	if endAt.Before(s.StartedAt) {
		endAt = s.StartedAt
	}
	res, err := t.finalizeLocked(ctx, s, endAt, true)
	if err != nil {
		return FinalizeResult{}, shared.WrapError("session", "Sweep", shared.ErrStoreUnavailable,
			"stale session not settled", err)
	}
	return res, nil
}
