// Package stats contains daily/monthly aggregate entities and the pure
// points-accrual rules that convert presence minutes into house points.
// This is a pure domain layer with zero external dependencies.
package stats

// Default accrual parameters.
const (
	// DefaultPointsPerHour is the reward rate for a full hour of presence.
	DefaultPointsPerHour = 2

	// DefaultRoundUpThresholdMinutes is the minute mark at which a partial
	// hour counts as a full one. 54 minutes into an hour earn nothing;
	// 55 earn the full hour.
	DefaultRoundUpThresholdMinutes = 55
)

// Accrual holds the points-per-hour rate and the partial-hour rounding
// threshold. ComputePoints is deterministic and side-effect-free, so the
// same elapsed-minute value always yields the same points. That property
// is what makes re-finalization during recovery idempotent.
type Accrual struct {
	PointsPerHour           int
	RoundUpThresholdMinutes int
}

// DefaultAccrual returns the standard hub accrual rules.
func DefaultAccrual() Accrual {
	return Accrual{
		PointsPerHour:           DefaultPointsPerHour,
		RoundUpThresholdMinutes: DefaultRoundUpThresholdMinutes,
	}
}

// ComputePoints converts elapsed minutes into points. Full hours each earn
// PointsPerHour; the trailing partial hour earns PointsPerHour only once at
// least RoundUpThresholdMinutes of it have elapsed, and is truncated below
// that. Negative input earns nothing.
func (a Accrual) ComputePoints(minutes int) int {
	if minutes <= 0 {
		return 0
	}

	hours := minutes / 60
	if minutes%60 >= a.RoundUpThresholdMinutes {
		hours++
	}
	return hours * a.PointsPerHour
}
