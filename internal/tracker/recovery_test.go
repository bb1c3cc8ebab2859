package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

func seedMarker(t *testing.T, store *memStore, id session.ID, userID session.UserID, roomID session.RoomID, startedAt, lastHeartbeatAt time.Time) {
	t.Helper()
	err := store.OpenSessionMarker(context.Background(), session.OpenMarker{
		SessionID:       id,
		UserID:          userID,
		RoomID:          roomID,
		RoomLabel:       "Gryffindor Tower",
		StartedAt:       startedAt,
		LastHeartbeatAt: lastHeartbeatAt,
	})
	require.NoError(t, err)
}

func TestRecover_StoreUnreachableIsFatal(t *testing.T) {
	tr, _, store := newTestTracker(t)
	store.failMarkers = true

	report, err := tr.Recover(context.Background(), &fakePresence{})
	assert.Nil(t, report)
	assert.Error(t, err)
}

func TestRecover_RebuildsSessionForPresentUser(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	ctx := context.Background()

	// Crashed 20 minutes into a session; restart 2 minutes later.
	startedAt := testTime().Add(-22 * time.Minute)
	seedMarker(t, store, newSessionID(), "u1", "room-a", startedAt, testTime().Add(-2*time.Minute))

	presence := &fakePresence{entries: []PresenceEntry{
		{UserID: "u1", RoomID: "room-a", RoomLabel: "Gryffindor Tower"},
	}}
	report, err := tr.Recover(ctx, presence)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebuilt)
	assert.Equal(t, 0, report.Capped)

	// The rebuilt session continues accruing from its original start.
	clock.Advance(8 * time.Minute)
	res, err := tr.EndSession(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Held)
	clock.Advance(6 * time.Minute)
	results := tr.Sweep(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, 30, results[0].Minutes)
}

func TestRecover_CapsLongStaleMarker(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	ctx := context.Background()

	// A marker claiming 10 hours of presence, still in the room.
	seedMarker(t, store, newSessionID(), "u1", "room-a",
		testTime().Add(-10*time.Hour), testTime().Add(-10*time.Hour))

	presence := &fakePresence{entries: []PresenceEntry{
		{UserID: "u1", RoomID: "room-a", RoomLabel: "Gryffindor Tower"},
	}}
	report, err := tr.Recover(ctx, presence)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebuilt)
	assert.Equal(t, 1, report.Capped)

	res, err := tr.EndSession(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Held)
	clock.Advance(6 * time.Minute)
	results := tr.Sweep(ctx)
	require.Len(t, results, 1)
	// Credit is bounded by MaxRecoverableGap, not the marker's claim.
	assert.Equal(t, int(DefaultConfig().MaxRecoverableGap.Minutes()), results[0].Minutes)
}

func TestRecover_AbsentUserGetsEstimatedClose(t *testing.T) {
	tr, _, store := newTestTracker(t)
	ctx := context.Background()

	startedAt := testTime().Add(-90 * time.Minute)
	lastSeen := testTime().Add(-30 * time.Minute)
	seedMarker(t, store, newSessionID(), "u1", "room-a", startedAt, lastSeen)

	report, err := tr.Recover(ctx, &fakePresence{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.EstimatedCloses)
	assert.Equal(t, 0, tr.Snapshot().Active)
	assert.Equal(t, 0, store.markerCount(), "settled marker must be cleared")

	stat := store.stat(t, "u1", timeutil.DateOf(lastSeen))
	assert.Equal(t, 60, stat.TotalMinutes, "credit stops at the last heartbeat")
	assert.Equal(t, 2, stat.PointsEarned)
}

func TestRecover_RoomMismatchSettlesAndRestarts(t *testing.T) {
	tr, _, store := newTestTracker(t)
	ctx := context.Background()

	seedMarker(t, store, newSessionID(), "u1", "room-a",
		testTime().Add(-45*time.Minute), testTime().Add(-5*time.Minute))

	presence := &fakePresence{entries: []PresenceEntry{
		{UserID: "u1", RoomID: "room-b", RoomLabel: "Slytherin Dungeon"},
	}}
	report, err := tr.Recover(ctx, presence)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EstimatedCloses)
	assert.Equal(t, 1, report.FreshStarts)

	s, ok := tr.lookup("u1")
	require.True(t, ok)
	assert.Equal(t, session.RoomID("room-b"), s.RoomID)

	stat := store.stat(t, "u1", timeutil.DateOf(testTime()))
	assert.Equal(t, 40, stat.TotalMinutes, "old room credited up to the last heartbeat")
}

func TestRecover_PresentUserWithoutMarkerStartsFresh(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	presence := &fakePresence{entries: []PresenceEntry{
		{UserID: "u1", RoomID: "room-a", RoomLabel: "Gryffindor Tower"},
	}}
	report, err := tr.Recover(context.Background(), presence)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FreshStarts)
	assert.Equal(t, 1, tr.Snapshot().Active)
}

func TestRecover_SettleIsIdempotentAfterCrashBetweenCreditAndCleanup(t *testing.T) {
	tr, _, store := newTestTracker(t)
	ctx := context.Background()

	startedAt := testTime().Add(-60 * time.Minute)
	lastSeen := testTime().Add(-10 * time.Minute)
	id := newSessionID()
	seedMarker(t, store, id, "u1", "room-a", startedAt, lastSeen)

	report, err := tr.Recover(ctx, &fakePresence{})
	require.NoError(t, err)
	require.Equal(t, 1, report.EstimatedCloses)

	// Simulate the crash-left state: credit applied but marker still
	// present, then a second recovery pass.
	seedMarker(t, store, id, "u1", "room-a", startedAt, lastSeen)
	want := store.stat(t, "u1", timeutil.DateOf(lastSeen)).TotalMinutes

	_, err = tr.Recover(ctx, &fakePresence{})
	require.NoError(t, err)

	got := store.stat(t, "u1", timeutil.DateOf(lastSeen)).TotalMinutes
	assert.Equal(t, want, got, "second pass must not re-credit")
}

func TestRecover_PartialFailureCollectsUsers(t *testing.T) {
	tr, _, store := newTestTracker(t)
	tr.retrier = failFastRetrier()
	ctx := context.Background()

	seedMarker(t, store, newSessionID(), "u1", "room-a",
		testTime().Add(-30*time.Minute), testTime().Add(-10*time.Minute))
	store.setFailApply(true)

	report, err := tr.Recover(ctx, &fakePresence{})
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Contains(t, report.Failed, session.UserID("u1"))
	assert.Equal(t, 1, store.markerCount(), "failed marker stays for the next pass")
}
