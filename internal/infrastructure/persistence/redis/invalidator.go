package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

// invalidationChannel carries tag broadcasts so other replicas drop their
// local read caches too.
const invalidationChannel = "cache:invalidate"

// Invalidator drops cached reads by tag. A tag is a key prefix fragment;
// invalidating "daily:u1" removes every cached day row for that user.
type Invalidator struct {
	cache *Cache
	log   *logger.Logger
}

var _ tracker.Invalidator = (*Invalidator)(nil)

// NewInvalidator creates an Invalidator over the given cache.
func NewInvalidator(cache *Cache, log *logger.Logger) *Invalidator {
	if log == nil {
		log = logger.Default()
	}
	return &Invalidator{
		cache: cache,
		log:   log.With(logger.Component("cache-invalidator")),
	}
}

// Invalidate removes every cached entry under the tag and broadcasts the
// tag on the invalidation channel.
func (i *Invalidator) Invalidate(ctx context.Context, tag string) error {
	if tag == "" {
		return ErrCacheKeyEmpty
	}

	if err := i.cache.DeleteByPattern(ctx, tag+"*"); err != nil {
		return fmt.Errorf("invalidate %q: %w", tag, err)
	}

	if err := i.cache.Publish(ctx, invalidationChannel, tag); err != nil {
		// Local invalidation already happened; a lost broadcast only
		// delays other replicas until their TTL expires.
		i.log.Debug("invalidation broadcast failed",
			logger.String("tag", tag),
			logger.Err(err),
		)
	}
	return nil
}

// NewFinalizeHandler returns an event handler that drops the cached reads
// a finalize makes stale: the user's daily rows and the month's
// leaderboard page.
func NewFinalizeHandler(inv *Invalidator) shared.EventHandler {
	return func(event shared.Event) error {
		e, ok := event.(shared.SessionFinalizedEvent)
		if !ok {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := inv.Invalidate(ctx, PrefixDailyStat+e.UserID); err != nil {
			return err
		}

		date, err := timeutil.ParseDate(e.Date, time.UTC)
		if err != nil {
			return nil
		}
		return inv.Invalidate(ctx, LeaderboardKey(timeutil.MonthString(date)))
	}
}
