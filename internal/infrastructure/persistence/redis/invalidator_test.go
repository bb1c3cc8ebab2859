package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheWithClient(client), mr
}

func TestCache_SetGetDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type row struct {
		Minutes int `json:"minutes"`
	}

	require.NoError(t, cache.Set(ctx, DailyStatKey("u1", "2026-03-10"), row{Minutes: 63}, time.Minute))

	var got row
	require.NoError(t, cache.Get(ctx, DailyStatKey("u1", "2026-03-10"), &got))
	assert.Equal(t, 63, got.Minutes)

	require.NoError(t, cache.Delete(ctx, DailyStatKey("u1", "2026-03-10")))
	err := cache.Get(ctx, DailyStatKey("u1", "2026-03-10"), &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestInvalidator_DropsAllKeysUnderTag(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, DailyStatKey("u1", "2026-03-09"), 1, time.Minute))
	require.NoError(t, cache.Set(ctx, DailyStatKey("u1", "2026-03-10"), 2, time.Minute))
	require.NoError(t, cache.Set(ctx, DailyStatKey("u2", "2026-03-10"), 3, time.Minute))

	inv := NewInvalidator(cache, nil)
	require.NoError(t, inv.Invalidate(ctx, PrefixDailyStat+"u1"))

	var v int
	assert.ErrorIs(t, cache.Get(ctx, DailyStatKey("u1", "2026-03-09"), &v), ErrCacheMiss)
	assert.ErrorIs(t, cache.Get(ctx, DailyStatKey("u1", "2026-03-10"), &v), ErrCacheMiss)

	// Other users' entries survive.
	require.NoError(t, cache.Get(ctx, DailyStatKey("u2", "2026-03-10"), &v))
	assert.Equal(t, 3, v)
}

func TestInvalidator_EmptyTagRejected(t *testing.T) {
	cache, _ := newTestCache(t)
	inv := NewInvalidator(cache, nil)

	assert.ErrorIs(t, inv.Invalidate(context.Background(), ""), ErrCacheKeyEmpty)
}

func TestFinalizeHandler_DropsDailyAndLeaderboard(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, DailyStatKey("u1", "2026-03-10"), 1, time.Minute))
	require.NoError(t, cache.Set(ctx, LeaderboardKey("2026-03"), []string{"u1"}, time.Minute))

	handler := NewFinalizeHandler(NewInvalidator(cache, nil))
	event := shared.NewSessionFinalizedEvent("u1", "s1", "room-a", "2026-03-10", 63, 2)
	require.NoError(t, handler(event))

	var v int
	assert.ErrorIs(t, cache.Get(ctx, DailyStatKey("u1", "2026-03-10"), &v), ErrCacheMiss)
	var lb []string
	assert.ErrorIs(t, cache.Get(ctx, LeaderboardKey("2026-03"), &lb), ErrCacheMiss)
}

func TestFinalizeHandler_IgnoresOtherEvents(t *testing.T) {
	cache, _ := newTestCache(t)
	handler := NewFinalizeHandler(NewInvalidator(cache, nil))

	event := shared.NewSessionStartedEvent("u1", "s1", "room-a", "Gryffindor Tower", time.Now())
	assert.NoError(t, handler(event))
}
