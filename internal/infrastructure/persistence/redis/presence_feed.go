package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE FEED
// ══════════════════════════════════════════════════════════════════════════════
//
// The gateway process (the piece that actually sits on the chat platform)
// publishes presence transitions to a Redis channel and mirrors the current
// occupancy into a hash. This feed is the worker-side consumer: it decodes
// each transition and drives the session tracker, and it serves the startup
// snapshot the recovery pass needs.

const (
	// PresenceChannel carries gateway presence transitions.
	PresenceChannel = "presence:events"

	// PresenceSnapshotKey is the hash of currently present users,
	// field = user ID, value = presenceState JSON.
	PresenceSnapshotKey = "presence:current"
)

// Presence event types as published by the gateway.
const (
	PresenceJoin      = "join"
	PresenceLeave     = "leave"
	PresenceSwitch    = "switch"
	PresenceHeartbeat = "heartbeat"
)

// ErrFeedClosed is returned when the subscription channel is closed
// underneath a running feed.
var ErrFeedClosed = errors.New("redis: presence feed closed")

// PresenceEvent is the wire format of one gateway transition.
type PresenceEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id,omitempty"`
	RoomLabel string `json:"room_label,omitempty"`
	FromRoom  string `json:"from_room,omitempty"`
	ToRoom    string `json:"to_room,omitempty"`
}

// presenceState is the hash value format of PresenceSnapshotKey.
type presenceState struct {
	RoomID    string `json:"room_id"`
	RoomLabel string `json:"room_label,omitempty"`
}

// SessionSink is the subset of the tracker the feed drives.
type SessionSink interface {
	HandleJoin(ctx context.Context, userID session.UserID, roomID session.RoomID, roomLabel string) error
	HandleLeave(ctx context.Context, userID session.UserID, roomID session.RoomID) (tracker.FinalizeResult, error)
	HandleSwitch(ctx context.Context, userID session.UserID, fromRoom, toRoom session.RoomID, toRoomLabel string) error
	Heartbeat(ctx context.Context, userID session.UserID) error
}

// PresenceFeed consumes gateway presence transitions from Redis pub/sub
// and exposes the occupancy snapshot for startup recovery.
type PresenceFeed struct {
	cache *Cache
	sink  SessionSink
	log   *logger.Logger
}

var _ tracker.PresenceSource = (*PresenceFeed)(nil)

// NewPresenceFeed creates a feed over an existing cache connection.
func NewPresenceFeed(cache *Cache, sink SessionSink, log *logger.Logger) *PresenceFeed {
	if log == nil {
		log = logger.Default()
	}
	return &PresenceFeed{
		cache: cache,
		sink:  sink,
		log:   log.With(logger.Component("presence_feed")),
	}
}

// CurrentlyPresent implements tracker.PresenceSource from the gateway's
// occupancy hash.
func (f *PresenceFeed) CurrentlyPresent(ctx context.Context) ([]tracker.PresenceEntry, error) {
	fields, err := f.cache.Client().HGetAll(ctx, PresenceSnapshotKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	entries := make([]tracker.PresenceEntry, 0, len(fields))
	for userID, raw := range fields {
		var st presenceState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			f.log.Warn("skipping malformed presence snapshot entry",
				logger.String("user_id", userID),
				logger.Err(err))
			continue
		}
		entries = append(entries, tracker.PresenceEntry{
			UserID:    session.UserID(userID),
			RoomID:    session.RoomID(st.RoomID),
			RoomLabel: st.RoomLabel,
		})
	}
	return entries, nil
}

// Run consumes presence events until the context is cancelled. A malformed
// or failed event is logged and skipped; the feed itself only stops on
// context cancellation or a closed subscription.
func (f *PresenceFeed) Run(ctx context.Context) error {
	sub := f.cache.Subscribe(ctx, PresenceChannel)
	defer func() { _ = sub.Close() }()

	// Fail fast if the subscription never establishes.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	f.log.Info("presence feed subscribed", logger.String("channel", PresenceChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrFeedClosed
			}
			f.dispatch(ctx, []byte(msg.Payload))
		}
	}
}

func (f *PresenceFeed) dispatch(ctx context.Context, payload []byte) {
	var ev PresenceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.log.Warn("dropping malformed presence event", logger.Err(err))
		return
	}
	if ev.UserID == "" {
		f.log.Warn("dropping presence event without user", logger.String("type", ev.Type))
		return
	}

	userID := session.UserID(ev.UserID)

	var err error
	switch ev.Type {
	case PresenceJoin:
		err = f.sink.HandleJoin(ctx, userID, session.RoomID(ev.RoomID), ev.RoomLabel)
	case PresenceLeave:
		_, err = f.sink.HandleLeave(ctx, userID, session.RoomID(ev.RoomID))
	case PresenceSwitch:
		err = f.sink.HandleSwitch(ctx, userID,
			session.RoomID(ev.FromRoom), session.RoomID(ev.ToRoom), ev.RoomLabel)
	case PresenceHeartbeat:
		err = f.sink.Heartbeat(ctx, userID)
	default:
		f.log.Warn("dropping presence event of unknown type", logger.String("type", ev.Type))
		return
	}

	if err != nil {
		f.log.Error("presence event handling failed",
			logger.String("type", ev.Type),
			logger.String("user_id", ev.UserID),
			logger.Err(err))
	}
}
