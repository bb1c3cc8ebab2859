package stats

import (
	"errors"
	"time"
)

// Domain errors for the stats package.
var (
	ErrInvalidUserID = errors.New("stats: invalid user ID")
	ErrArchived      = errors.New("stats: daily stat is archived")
	ErrNegativeDelta = errors.New("stats: delta cannot be negative")
)

// DailyStat is one row per (user, calendar date). Exactly one non-archived
// row exists per user and date; once the day rolls over, the row is marked
// archived and never mutated again.
type DailyStat struct {
	UserID       string
	Date         time.Time // midnight of the day, in the hub timezone
	TotalMinutes int
	SessionCount int
	PointsEarned int
	Archived     bool
}

// NewDailyStat creates an empty, non-archived stat row for a date.
func NewDailyStat(userID string, date time.Time) (*DailyStat, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return &DailyStat{
		UserID: userID,
		Date:   time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
	}, nil
}

// Add applies an additive finalize delta to the row.
func (d *DailyStat) Add(minutes, points, sessionCountDelta int) error {
	if d.Archived {
		return ErrArchived
	}
	if minutes < 0 || points < 0 || sessionCountDelta < 0 {
		return ErrNegativeDelta
	}

	d.TotalMinutes += minutes
	d.PointsEarned += points
	d.SessionCount += sessionCountDelta
	return nil
}

// Archive flips the one-way archived flag.
func (d *DailyStat) Archive() {
	d.Archived = true
}

// MonthlyAggregate is a monotonically increasing projection of finalized
// daily stats, keyed by (user, YYYY-MM). It is maintained by the same
// write path as the daily rows, never recomputed from scratch.
type MonthlyAggregate struct {
	UserID       string
	Month        string // YYYY-MM
	TotalMinutes int
	PointsEarned int
}

// AllTimeAggregate is the lifetime projection for one user.
type AllTimeAggregate struct {
	UserID       string
	TotalMinutes int
	PointsEarned int
	SessionCount int
}

// Finalization is the additive delta one finalized session contributes.
// SessionID is the idempotence key: a store applying the same finalization
// twice must credit it only once.
type Finalization struct {
	SessionID string
	UserID    string
	RoomID    string
	Date      time.Time // day the minutes are credited to
	Minutes   int
	Points    int

	// SessionCountDelta increments the per-day session counter. A session
	// spanning midnight counts once on each day it touched.
	SessionCountDelta int
}
