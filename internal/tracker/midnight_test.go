package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

func TestRolloverDay_SplitsOpenSession(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	ctx := context.Background()

	// 23:50 join.
	clock.Set(time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC))
	_, err := tr.StartSession(ctx, "u1", "room-a", "Gryffindor Tower")
	require.NoError(t, err)

	boundary := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	clock.Set(boundary)
	report, err := tr.RolloverDay(ctx, boundary)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsSplit)
	assert.Empty(t, report.Failed)

	// Yesterday holds the 10 pre-midnight minutes, already sealed.
	yesterday := store.stat(t, "u1", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 10, yesterday.TotalMinutes)
	assert.Equal(t, 1, yesterday.SessionCount)
	assert.True(t, yesterday.Archived)

	// The successor keeps running; a 00:10 leave credits 10 minutes to
	// the new day.
	clock.Set(boundary.Add(10 * time.Minute))
	res, err := tr.EndSession(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Held)

	clock.Set(boundary.Add(16 * time.Minute))
	results := tr.Sweep(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, 10, results[0].Minutes)

	today := store.stat(t, "u1", boundary)
	assert.Equal(t, 10, today.TotalMinutes)
	assert.False(t, today.Archived)
}

func TestRolloverDay_ConservesMinutesAcrossBoundary(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	ctx := context.Background()

	clock.Set(time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	_, err := tr.StartSession(ctx, "u1", "room-a", "Gryffindor Tower")
	require.NoError(t, err)

	boundary := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	clock.Set(boundary)
	_, err = tr.RolloverDay(ctx, boundary)
	require.NoError(t, err)

	clock.Set(boundary.Add(90 * time.Minute))
	_, err = tr.EndSession(ctx, "u1")
	require.NoError(t, err)
	clock.Set(boundary.Add(96 * time.Minute))
	require.Len(t, tr.Sweep(ctx), 1)

	yesterday := store.stat(t, "u1", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	today := store.stat(t, "u1", boundary)
	assert.Equal(t, 120, yesterday.TotalMinutes)
	assert.Equal(t, 90, today.TotalMinutes)
	// 210 total, exactly the 22:00 to 01:30 span.
	assert.Equal(t, 210, yesterday.TotalMinutes+today.TotalMinutes)
	// Session counted once per day it touched.
	assert.Equal(t, 1, yesterday.SessionCount)
	assert.Equal(t, 1, today.SessionCount)
}

func TestRolloverDay_GraceHoldSurvivesBoundary(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	ctx := context.Background()

	clock.Set(time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))
	_, err := tr.StartSession(ctx, "u1", "room-a", "Gryffindor Tower")
	require.NoError(t, err)

	// Drop at 23:58; the window reaches into the next day.
	clock.Set(time.Date(2026, 3, 10, 23, 58, 0, 0, time.UTC))
	_, err = tr.EndSession(ctx, "u1")
	require.NoError(t, err)

	boundary := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	clock.Set(boundary)
	report, err := tr.RolloverDay(ctx, boundary)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsSplit)
	assert.Equal(t, 1, tr.Snapshot().Grace)

	// Rejoin at 00:01 still resumes.
	clock.Set(boundary.Add(1 * time.Minute))
	require.NoError(t, tr.HandleJoin(ctx, "u1", "room-a", "Gryffindor Tower"))
	assert.Equal(t, 1, tr.Snapshot().Active)

	yesterday := store.stat(t, "u1", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 28, yesterday.TotalMinutes, "held credit stops at the 23:58 drop")
}

func TestRolloverDay_SkipsSessionsOpenedAtBoundary(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	ctx := context.Background()

	boundary := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	clock.Set(boundary)
	handle, err := tr.StartSession(ctx, "u1", "room-a", "Gryffindor Tower")
	require.NoError(t, err)

	report, err := tr.RolloverDay(ctx, boundary)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SessionsSplit)
	assert.Equal(t, 1, tr.Snapshot().Active)

	// The session itself is untouched, not replaced by a successor.
	after, ok := tr.lookup("u1")
	require.True(t, ok)
	assert.Equal(t, handle.ID, after.ID)
}

func TestRolloverDay_FailureLeavesSessionUncut(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	tr.retrier = failFastRetrier()
	ctx := context.Background()

	clock.Set(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	_, err := tr.StartSession(ctx, "u1", "room-a", "Gryffindor Tower")
	require.NoError(t, err)
	handleBefore, ok := tr.lookup("u1")
	require.True(t, ok)

	boundary := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	clock.Set(boundary)
	store.setFailApply(true)
	report, err := tr.RolloverDay(ctx, boundary)
	assert.True(t, IsPartialRollover(err))
	assert.Contains(t, report.Failed, handleBefore.UserID)

	// The original session is untouched and still accruing across the
	// boundary.
	after, ok := tr.lookup("u1")
	require.True(t, ok)
	assert.Equal(t, handleBefore.ID, after.ID)
	assert.True(t, after.IsActive())

	// When the store recovers, a plain end credits the full span to the
	// end date.
	store.setFailApply(false)
	clock.Set(boundary.Add(30 * time.Minute))
	_, err = tr.EndSession(ctx, "u1")
	require.NoError(t, err)
	clock.Set(boundary.Add(36 * time.Minute))
	results := tr.Sweep(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, 90, results[0].Minutes)
	assert.Equal(t, timeutil.DateOf(boundary), results[0].Date)
}

func TestRolloverDay_SealsDaysOfAbsentUsers(t *testing.T) {
	tr, clock, store := newTestTracker(t)
	ctx := context.Background()

	// u2 finished their session well before midnight.
	clock.Set(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	_, err := tr.StartSession(ctx, "u2", "room-a", "Gryffindor Tower")
	require.NoError(t, err)
	clock.Set(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	_, err = tr.EndSession(ctx, "u2")
	require.NoError(t, err)
	clock.Set(time.Date(2026, 3, 10, 15, 6, 0, 0, time.UTC))
	require.Len(t, tr.Sweep(ctx), 1)

	boundary := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	clock.Set(boundary)
	report, err := tr.RolloverDay(ctx, boundary)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StatsArchived)

	stat := store.stat(t, "u2", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.True(t, stat.Archived)
}
