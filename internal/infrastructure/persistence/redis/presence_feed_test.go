package redis

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
)

type recordedCall struct {
	op       string
	userID   session.UserID
	roomID   session.RoomID
	fromRoom session.RoomID
	toRoom   session.RoomID
	label    string
}

type recordingSink struct {
	calls []recordedCall
}

func (s *recordingSink) HandleJoin(_ context.Context, userID session.UserID, roomID session.RoomID, label string) error {
	s.calls = append(s.calls, recordedCall{op: "join", userID: userID, roomID: roomID, label: label})
	return nil
}

func (s *recordingSink) HandleLeave(_ context.Context, userID session.UserID, roomID session.RoomID) (tracker.FinalizeResult, error) {
	s.calls = append(s.calls, recordedCall{op: "leave", userID: userID, roomID: roomID})
	return tracker.FinalizeResult{}, nil
}

func (s *recordingSink) HandleSwitch(_ context.Context, userID session.UserID, fromRoom, toRoom session.RoomID, label string) error {
	s.calls = append(s.calls, recordedCall{op: "switch", userID: userID, fromRoom: fromRoom, toRoom: toRoom, label: label})
	return nil
}

func (s *recordingSink) Heartbeat(_ context.Context, userID session.UserID) error {
	s.calls = append(s.calls, recordedCall{op: "heartbeat", userID: userID})
	return nil
}

func newTestFeed(t *testing.T) (*PresenceFeed, *recordingSink, *Cache) {
	t.Helper()
	cache, _ := newTestCache(t)
	sink := &recordingSink{}
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	return NewPresenceFeed(cache, sink, log), sink, cache
}

func TestPresenceFeed_DispatchRoutesEvents(t *testing.T) {
	feed, sink, _ := newTestFeed(t)
	ctx := context.Background()

	feed.dispatch(ctx, []byte(`{"type":"join","user_id":"u1","room_id":"r1","room_label":"Gryffindor Tower"}`))
	feed.dispatch(ctx, []byte(`{"type":"heartbeat","user_id":"u1"}`))
	feed.dispatch(ctx, []byte(`{"type":"switch","user_id":"u1","from_room":"r1","to_room":"r2","room_label":"Library"}`))
	feed.dispatch(ctx, []byte(`{"type":"leave","user_id":"u1","room_id":"r2"}`))

	require.Len(t, sink.calls, 4)
	assert.Equal(t, recordedCall{op: "join", userID: "u1", roomID: "r1", label: "Gryffindor Tower"}, sink.calls[0])
	assert.Equal(t, recordedCall{op: "heartbeat", userID: "u1"}, sink.calls[1])
	assert.Equal(t, recordedCall{op: "switch", userID: "u1", fromRoom: "r1", toRoom: "r2", label: "Library"}, sink.calls[2])
	assert.Equal(t, recordedCall{op: "leave", userID: "u1", roomID: "r2"}, sink.calls[3])
}

func TestPresenceFeed_DropsMalformedAndUnknownEvents(t *testing.T) {
	feed, sink, _ := newTestFeed(t)
	ctx := context.Background()

	feed.dispatch(ctx, []byte(`not json`))
	feed.dispatch(ctx, []byte(`{"type":"join","room_id":"r1"}`))
	feed.dispatch(ctx, []byte(`{"type":"teleport","user_id":"u1"}`))

	assert.Empty(t, sink.calls)
}

func TestPresenceFeed_CurrentlyPresentReadsSnapshot(t *testing.T) {
	feed, _, cache := newTestFeed(t)
	ctx := context.Background()

	client := cache.Client()
	require.NoError(t, client.HSet(ctx, PresenceSnapshotKey,
		"u1", `{"room_id":"r1","room_label":"Gryffindor Tower"}`,
		"u2", `{"room_id":"r2"}`,
		"u3", `broken`,
	).Err())

	entries, err := feed.CurrentlyPresent(ctx)
	require.NoError(t, err)

	byUser := make(map[session.UserID]tracker.PresenceEntry, len(entries))
	for _, e := range entries {
		byUser[e.UserID] = e
	}

	// u3's malformed entry is skipped, not fatal.
	require.Len(t, byUser, 2)
	assert.Equal(t, session.RoomID("r1"), byUser["u1"].RoomID)
	assert.Equal(t, "Gryffindor Tower", byUser["u1"].RoomLabel)
	assert.Equal(t, session.RoomID("r2"), byUser["u2"].RoomID)
}

func TestPresenceFeed_CurrentlyPresentEmptySnapshot(t *testing.T) {
	feed, _, _ := newTestFeed(t)

	entries, err := feed.CurrentlyPresent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
