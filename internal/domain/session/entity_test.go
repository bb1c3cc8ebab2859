package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New("sess-1", "user-1", "room-1", "Gryffindor Common Room", t0)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "user-1", "room-1", "label", t0)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = New("sess-1", "", "room-1", "label", t0)
	assert.ErrorIs(t, err, ErrInvalidUserID)

	_, err = New("sess-1", "user-1", "", "label", t0)
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestNew_StartsActive(t *testing.T) {
	s := newTestSession(t)

	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, t0, s.StartedAt)
	assert.Equal(t, t0, s.SegmentStartedAt)
	assert.Equal(t, 0, s.AccumulatedMinutes)
	assert.True(t, s.IsOpen())
}

func TestHold_BanksSegmentMinutes(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.Hold(t0.Add(10*time.Minute)))

	assert.Equal(t, StateGrace, s.State)
	assert.Equal(t, 10, s.AccumulatedMinutes)
	assert.Equal(t, t0.Add(10*time.Minute), s.HeldAt)
	assert.Equal(t, t0, s.StartedAt, "original start preserved")
}

func TestHold_OnlyFromActive(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Hold(t0.Add(time.Minute)))

	assert.ErrorIs(t, s.Hold(t0.Add(2*time.Minute)), ErrNotActive)

	require.NoError(t, s.End())
	assert.ErrorIs(t, s.Hold(t0.Add(3*time.Minute)), ErrAlreadyEnded)
}

func TestResume_ExcludesGraceGap(t *testing.T) {
	s := newTestSession(t)

	// join t0, leave t0+10, rejoin t0+12, final leave t0+20
	require.NoError(t, s.Hold(t0.Add(10*time.Minute)))
	require.NoError(t, s.Resume(t0.Add(12*time.Minute)))

	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, t0, s.StartedAt)
	assert.True(t, s.HeldAt.IsZero())

	// 10 active + 8 active, the 2-minute gap excluded
	assert.Equal(t, 18, s.ElapsedMinutesAt(t0.Add(20*time.Minute)))
}

func TestResume_OnlyFromGrace(t *testing.T) {
	s := newTestSession(t)
	assert.ErrorIs(t, s.Resume(t0.Add(time.Minute)), ErrNotInGrace)
}

func TestElapsedMinutesAt_GraceCreditsUpToLeaveInstant(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Hold(t0.Add(10*time.Minute)))

	// Time in grace must not accrue.
	assert.Equal(t, 10, s.ElapsedMinutesAt(t0.Add(14*time.Minute)))
	assert.Equal(t, 10, s.ElapsedMinutesAt(t0.Add(2*time.Hour)))
}

func TestHeartbeat(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.Heartbeat(t0.Add(5*time.Minute)))
	assert.Equal(t, t0.Add(5*time.Minute), s.LastHeartbeatAt)

	// A stale heartbeat never moves the clock backwards.
	require.NoError(t, s.Heartbeat(t0.Add(2*time.Minute)))
	assert.Equal(t, t0.Add(5*time.Minute), s.LastHeartbeatAt)

	require.NoError(t, s.End())
	assert.ErrorIs(t, s.Heartbeat(t0.Add(6*time.Minute)), ErrAlreadyEnded)
}

func TestSplitAt_ActiveSessionConservesMinutes(t *testing.T) {
	// Session 23:50 -> 00:10 must credit 10 minutes to each day.
	start := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	boundary := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	s, err := New("sess-1", "user-1", "room-1", "label", start)
	require.NoError(t, err)

	successor, priorMinutes, err := s.SplitAt(boundary, "sess-2")
	require.NoError(t, err)

	assert.Equal(t, 10, priorMinutes)
	assert.Equal(t, StateEnded, s.State)
	assert.Equal(t, StateActive, successor.State)
	assert.Equal(t, boundary, successor.StartedAt)
	assert.Equal(t, 10, successor.ElapsedMinutesAt(boundary.Add(10*time.Minute)))
}

func TestSplitAt_GraceSessionKeepsHold(t *testing.T) {
	start := time.Date(2025, 6, 1, 23, 40, 0, 0, time.UTC)
	heldAt := time.Date(2025, 6, 1, 23, 55, 0, 0, time.UTC)
	boundary := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	s, err := New("sess-1", "user-1", "room-1", "label", start)
	require.NoError(t, err)
	require.NoError(t, s.Hold(heldAt))

	successor, priorMinutes, err := s.SplitAt(boundary, "sess-2")
	require.NoError(t, err)

	// 15 minutes active before the hold; grace time is not credited.
	assert.Equal(t, 15, priorMinutes)
	assert.Equal(t, StateGrace, successor.State)
	assert.Equal(t, heldAt, successor.HeldAt)
	assert.Equal(t, 0, successor.AccumulatedMinutes)
}

func TestSplitAt_EndedSessionRejected(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.End())

	_, _, err := s.SplitAt(t0.Add(time.Hour), "sess-2")
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestGraceEntry_Expiry(t *testing.T) {
	s := newTestSession(t)
	heldAt := t0.Add(10 * time.Minute)
	require.NoError(t, s.Hold(heldAt))

	entry := NewGraceEntry(s, heldAt, 5*time.Minute)

	assert.Equal(t, heldAt.Add(5*time.Minute), entry.ExpiresAt)
	assert.False(t, entry.Expired(heldAt.Add(4*time.Minute)))
	assert.True(t, entry.Expired(heldAt.Add(5*time.Minute)))
	assert.True(t, entry.Expired(heldAt.Add(time.Hour)))
}
