package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePoints_BelowThresholdTruncates(t *testing.T) {
	a := DefaultAccrual()

	assert.Equal(t, a.ComputePoints(0), a.ComputePoints(54))
	assert.Equal(t, 0, a.ComputePoints(54))
	assert.Equal(t, 0, a.ComputePoints(30))
	assert.Equal(t, 0, a.ComputePoints(1))
}

func TestComputePoints_ThresholdRoundsUp(t *testing.T) {
	a := DefaultAccrual()

	assert.Equal(t, a.ComputePoints(60), a.ComputePoints(55))
	assert.Equal(t, 2, a.ComputePoints(55))
	assert.Equal(t, 2, a.ComputePoints(60))
}

func TestComputePoints_OneHourFiftyFive(t *testing.T) {
	a := DefaultAccrual()

	// 1h55m: 2 for the full hour + 2 for the rounded-up second hour.
	assert.Equal(t, 4, a.ComputePoints(115))
	// 1h54m stays truncated at one hour.
	assert.Equal(t, 2, a.ComputePoints(114))
}

func TestComputePoints_MultipleHours(t *testing.T) {
	a := DefaultAccrual()

	assert.Equal(t, 2, a.ComputePoints(65))
	assert.Equal(t, 6, a.ComputePoints(180))
	assert.Equal(t, 8, a.ComputePoints(235)) // 3h55m
}

func TestComputePoints_NegativeEarnsNothing(t *testing.T) {
	a := DefaultAccrual()
	assert.Equal(t, 0, a.ComputePoints(-10))
}

func TestComputePoints_CustomRate(t *testing.T) {
	a := Accrual{PointsPerHour: 5, RoundUpThresholdMinutes: 55}

	assert.Equal(t, 5, a.ComputePoints(60))
	assert.Equal(t, 10, a.ComputePoints(115))
}

func TestComputePoints_Deterministic(t *testing.T) {
	a := DefaultAccrual()
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.ComputePoints(115), a.ComputePoints(115))
	}
}
