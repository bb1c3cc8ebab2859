package tracker

import (
	"context"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/stats"
)

// Store is the persistent-store boundary the engine requires. Writes must
// be idempotent: ApplyFinalize keyed by session ID may be retried after
// transient failures without double-crediting points.
//
// Implementations signal transient failures by wrapping
// shared.ErrStoreUnavailable so the engine's retry policy can match them.
type Store interface {
	// OpenSessionMarker upserts the durable "session open" marker for a
	// user, used only by startup recovery.
	OpenSessionMarker(ctx context.Context, marker session.OpenMarker) error

	// TouchSessionMarker refreshes the marker's heartbeat timestamp.
	TouchSessionMarker(ctx context.Context, userID session.UserID, at time.Time) error

	// CloseSessionMarker removes the marker on clean finalize.
	CloseSessionMarker(ctx context.Context, userID session.UserID) error

	// QueryOpenMarkers returns every crash-left open marker.
	QueryOpenMarkers(ctx context.Context) ([]session.OpenMarker, error)

	// ApplyFinalize applies one finalization: the daily stat upsert and the
	// monthly/all-time aggregate increments, guarded by the finalization's
	// session ID. Returns false when that session was already finalized,
	// in which case nothing was credited.
	ApplyFinalize(ctx context.Context, f stats.Finalization) (bool, error)

	// EnsureDailyStat creates the fresh zero-minute row for a new date if
	// it does not exist yet.
	EnsureDailyStat(ctx context.Context, userID session.UserID, date time.Time) error

	// ArchiveDailyStat flips the one-way archived flag on a day's row.
	ArchiveDailyStat(ctx context.Context, userID session.UserID, date time.Time) error

	// ArchiveDailyStatsBefore archives every non-archived row dated before
	// the given day, returning how many rows were flipped. Called by the
	// midnight coordinator so completed days of users without open
	// sessions are sealed too.
	ArchiveDailyStatsBefore(ctx context.Context, date time.Time) (int, error)

	// QueryDailyStat returns a user's row for a date, or nil when absent.
	QueryDailyStat(ctx context.Context, userID session.UserID, date time.Time) (*stats.DailyStat, error)
}

// PresenceEntry is one currently-present user as observed by the upstream
// presence source.
type PresenceEntry struct {
	UserID    session.UserID
	RoomID    session.RoomID
	RoomLabel string
}

// PresenceSource is the upstream snapshot query, used once at startup by
// the recovery manager. Live join/leave/switch events are delivered to the
// tracker's Handle* methods instead.
type PresenceSource interface {
	CurrentlyPresent(ctx context.Context) ([]PresenceEntry, error)
}

// Invalidator is the downstream cache-invalidation collaborator. The
// engine never owns a cache; it only emits finalize events, and an
// Invalidator subscribed to the bus reacts to them.
type Invalidator interface {
	Invalidate(ctx context.Context, tag string) error
}

// FinalizeResult reports the outcome of an end/sweep/split operation.
// The zero value is the idempotent no-op result returned for duplicate
// leave events.
type FinalizeResult struct {
	// Finalized is true when a finalization was durably applied.
	Finalized bool

	// Held is true when the session entered its grace window instead of
	// finalizing; no points were awarded yet.
	Held bool

	SessionID session.ID
	UserID    session.UserID
	RoomID    session.RoomID
	Date      time.Time
	Minutes   int
	Points    int

	// EstimatedClose marks an end time reconstructed from a heartbeat
	// rather than observed (recovery, stale sweep).
	EstimatedClose bool

	// ClockAnomaly marks a clamped elapsed-time value, flagged for audit.
	ClockAnomaly bool
}

// NoOp reports whether the operation found nothing to do.
func (r FinalizeResult) NoOp() bool {
	return !r.Finalized && !r.Held
}
