// Package tracker implements the presence-session lifecycle engine: it
// opens, extends, holds, finalizes, and recovers time-tracked sessions
// while guaranteeing exactly-once point accrual across process restarts
// and calendar-day boundaries.
//
// Concurrency model: the registry is sharded by user ID; every mutation
// for a user runs under that user's shard lock, so operations for the
// same user are linearized while other shards stay processable during
// store writes. Grace and staleness deadlines are wall-clock values
// evaluated by the periodic sweep, not one timer per session.
package tracker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/stats"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/retry"
)

// Config holds the engine's tuning knobs.
type Config struct {
	// GraceWindow is how long a disconnected user may rejoin without
	// losing session continuity. Zero disables grace entirely.
	GraceWindow time.Duration

	// StaleThreshold force-closes an Active session whose last heartbeat
	// is older than this, protecting against missed leave events.
	StaleThreshold time.Duration

	// MaxSessionMinutes clamps a single finalize. Elapsed values above it
	// are treated as clock anomalies and flagged for audit.
	MaxSessionMinutes int

	// MaxRecoverableGap caps how much pre-restart time recovery may
	// credit from an open marker.
	MaxRecoverableGap time.Duration

	// NoGraceRooms lists rooms where a leave finalizes immediately.
	NoGraceRooms map[session.RoomID]bool

	// Accrual is the points conversion rule.
	Accrual stats.Accrual

	// ShardCount is the number of registry shards. Must be > 0.
	ShardCount int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		GraceWindow:       5 * time.Minute,
		StaleThreshold:    2 * time.Hour,
		MaxSessionMinutes: 16 * 60,
		MaxRecoverableGap: 2 * time.Hour,
		Accrual:           stats.DefaultAccrual(),
		ShardCount:        64,
	}
}

// SessionHandle is the caller-facing view of an open session. The engine
// keeps exclusive ownership of the session itself.
type SessionHandle struct {
	ID        session.ID
	UserID    session.UserID
	RoomID    session.RoomID
	RoomLabel string
	StartedAt time.Time
}

// shard owns the sessions and grace entries for a slice of the user space.
type shard struct {
	mu     sync.Mutex
	active map[session.UserID]*session.Session
	grace  map[session.UserID]*session.GraceEntry
}

// Tracker is the presence-session lifecycle engine.
type Tracker struct {
	cfg     Config
	clock   Clock
	store   Store
	bus     shared.EventPublisher
	log     *logger.Logger
	retrier *retry.Retrier
	shards  []*shard
}

// New creates a Tracker. The store is required; bus and log may be nil.
func New(cfg Config, clock Clock, store Store, bus shared.EventPublisher, log *logger.Logger) *Tracker {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 64
	}
	if log == nil {
		log = logger.Default()
	}

	shards := make([]*shard, cfg.ShardCount)
	for i := range shards {
		shards[i] = &shard{
			active: make(map[session.UserID]*session.Session),
			grace:  make(map[session.UserID]*session.GraceEntry),
		}
	}

	return &Tracker{
		cfg:     cfg,
		clock:   clock,
		store:   store,
		bus:     bus,
		log:     log.With(logger.Component("tracker")),
		retrier: retry.FinalizeRetrier(),
		shards:  shards,
	}
}

// shardFor maps a user to their registry shard.
func (t *Tracker) shardFor(userID session.UserID) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

func newSessionID() session.ID {
	return session.ID(uuid.NewString())
}

// graceEnabled reports whether leaves from this room get a grace window.
func (t *Tracker) graceEnabled(roomID session.RoomID) bool {
	if t.cfg.GraceWindow <= 0 {
		return false
	}
	return !t.cfg.NoGraceRooms[roomID]
}

// publish sends an event when a bus is wired; delivery is best-effort.
func (t *Tracker) publish(event shared.Event) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(event); err != nil {
		t.log.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

// StartSession opens a new session for a user. It fails with
// shared.ErrAlreadyActive when the user already has an Active or Grace
// session; the caller must end or merge first.
func (t *Tracker) StartSession(ctx context.Context, userID session.UserID, roomID session.RoomID, roomLabel string) (SessionHandle, error) {
	now := t.clock.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.active[userID]; ok {
		return SessionHandle{}, shared.ErrAlreadyActive
	}
	if _, ok := sh.grace[userID]; ok {
		return SessionHandle{}, shared.ErrAlreadyActive
	}

	return t.startLocked(ctx, sh, userID, roomID, roomLabel, now)
}

// startLocked creates a session and persists its open marker.
// Callers must hold the shard lock.
func (t *Tracker) startLocked(ctx context.Context, sh *shard, userID session.UserID, roomID session.RoomID, roomLabel string, now time.Time) (SessionHandle, error) {
	s, err := session.New(newSessionID(), userID, roomID, roomLabel, now)
	if err != nil {
		return SessionHandle{}, shared.WrapError("session", "Start", shared.ErrInvalidInput, "cannot create session", err)
	}

	marker := session.OpenMarker{
		SessionID:       s.ID,
		UserID:          s.UserID,
		RoomID:          s.RoomID,
		RoomLabel:       s.RoomLabel,
		StartedAt:       s.StartedAt,
		LastHeartbeatAt: s.LastHeartbeatAt,
	}
	err = t.retrier.Do(ctx, func(ctx context.Context) error {
		return markRetryable(t.store.OpenSessionMarker(ctx, marker))
	})
	if err != nil {
		// The session is tracked anyway; losing the marker only weakens
		// crash recovery for this one session.
		t.log.Warn("open marker write failed",
			logger.UserID(userID.String()),
			logger.SessionID(s.ID.String()),
			logger.Err(err),
		)
	}

	sh.active[userID] = s
	t.publish(shared.NewSessionStartedEvent(
		userID.String(), s.ID.String(), roomID.String(), roomLabel, s.StartedAt,
	))
	t.log.Info("session started",
		logger.UserID(userID.String()),
		logger.SessionID(s.ID.String()),
		logger.RoomID(roomID.String()),
	)

	return SessionHandle{
		ID:        s.ID,
		UserID:    s.UserID,
		RoomID:    s.RoomID,
		RoomLabel: s.RoomLabel,
		StartedAt: s.StartedAt,
	}, nil
}

// EndSession closes the user's session. A leave from a grace-enabled room
// moves the session into its grace window; otherwise it finalizes
// immediately. Ending a user with no session is an idempotent no-op,
// since duplicate leave events are expected.
func (t *Tracker) EndSession(ctx context.Context, userID session.UserID) (FinalizeResult, error) {
	now := t.clock.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return t.endLocked(ctx, sh, userID, now, true)
}

// endLocked implements EndSession under the shard lock. allowGrace false
// forces an immediate finalize (room switches, recovery).
func (t *Tracker) endLocked(ctx context.Context, sh *shard, userID session.UserID, now time.Time, allowGrace bool) (FinalizeResult, error) {
	// Explicit leave while already in grace confirms the leave: finalize
	// with credit up to the original leave instant.
	if entry, ok := sh.grace[userID]; ok {
		res, err := t.finalizeLocked(ctx, entry.Session, entry.FinalizeAt(), false)
		if err != nil {
			return FinalizeResult{}, err
		}
		delete(sh.grace, userID)
		return res, nil
	}

	s, ok := sh.active[userID]
	if !ok {
		return FinalizeResult{}, nil
	}

	if allowGrace && t.graceEnabled(s.RoomID) {
		if err := s.Hold(now); err != nil {
			return FinalizeResult{}, shared.WrapError("session", "End", shared.ErrStateTransition, "cannot hold session", err)
		}
		entry := session.NewGraceEntry(s, now, t.cfg.GraceWindow)
		sh.grace[userID] = entry
		delete(sh.active, userID)

		t.publish(shared.NewSessionHeldEvent(
			userID.String(), s.ID.String(), s.RoomID.String(), entry.ExpiresAt,
		))
		t.log.Debug("session held",
			logger.UserID(userID.String()),
			logger.SessionID(s.ID.String()),
			logger.Time("expires_at", entry.ExpiresAt),
		)
		return FinalizeResult{
			Held:      true,
			SessionID: s.ID,
			UserID:    s.UserID,
			RoomID:    s.RoomID,
		}, nil
	}

	res, err := t.finalizeLocked(ctx, s, now, false)
	if err != nil {
		return FinalizeResult{}, err
	}
	delete(sh.active, userID)
	return res, nil
}

// SwitchRoom moves a user to a new room: an immediate finalize of the old
// session followed by a fresh start. Two sub-operations, not a special
// state, so the state machine stays small.
func (t *Tracker) SwitchRoom(ctx context.Context, userID session.UserID, newRoomID session.RoomID, newRoomLabel string) (FinalizeResult, SessionHandle, error) {
	now := t.clock.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	res, err := t.endLocked(ctx, sh, userID, now, false)
	if err != nil {
		return FinalizeResult{}, SessionHandle{}, err
	}

	handle, err := t.startLocked(ctx, sh, userID, newRoomID, newRoomLabel, now)
	if err != nil {
		return res, SessionHandle{}, err
	}
	return res, handle, nil
}

// Heartbeat refreshes the presence signal for a user's Active session.
// Unknown users are ignored.
func (t *Tracker) Heartbeat(ctx context.Context, userID session.UserID) error {
	now := t.clock.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.active[userID]
	if !ok {
		return nil
	}
	if err := s.Heartbeat(now); err != nil {
		return err
	}
	if err := t.store.TouchSessionMarker(ctx, userID, now); err != nil {
		t.log.Debug("marker heartbeat failed",
			logger.UserID(userID.String()),
			logger.Err(err),
		)
	}
	return nil
}

// HandleJoin processes an upstream join event. Unlike StartSession it is
// tolerant: a rejoin to the grace-holding room resumes the held session,
// a rejoin to a different room force-finalizes the old one, and a
// duplicate join acts as a heartbeat.
func (t *Tracker) HandleJoin(ctx context.Context, userID session.UserID, roomID session.RoomID, roomLabel string) error {
	now := t.clock.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if entry, ok := sh.grace[userID]; ok {
		if entry.Session.RoomID == roomID && !entry.Expired(now) {
			if err := entry.Session.Resume(now); err != nil {
				return shared.WrapError("session", "Resume", shared.ErrStateTransition, "cannot resume held session", err)
			}
			sh.active[userID] = entry.Session
			delete(sh.grace, userID)

			if err := t.store.TouchSessionMarker(ctx, userID, now); err != nil {
				t.log.Debug("marker heartbeat failed",
					logger.UserID(userID.String()),
					logger.Err(err),
				)
			}
			t.publish(shared.NewSessionResumedEvent(
				userID.String(), entry.Session.ID.String(), roomID.String(),
			))
			t.log.Info("session resumed",
				logger.UserID(userID.String()),
				logger.SessionID(entry.Session.ID.String()),
			)
			return nil
		}

		// Joining a different room (or past the window) accepts the new
		// room: the grace entry is force-finalized before the new start.
		if _, err := t.finalizeLocked(ctx, entry.Session, entry.FinalizeAt(), false); err != nil {
			return err
		}
		delete(sh.grace, userID)
	}

	if s, ok := sh.active[userID]; ok {
		if s.RoomID == roomID {
			// Duplicate join; treat as a heartbeat.
			return s.Heartbeat(now)
		}
		if _, err := t.finalizeLocked(ctx, s, now, false); err != nil {
			return err
		}
		delete(sh.active, userID)
	}

	_, err := t.startLocked(ctx, sh, userID, roomID, roomLabel, now)
	return err
}

// HandleLeave processes an upstream leave event. Leaves for a room the
// user is not tracked in are ignored; duplicate leaves are no-ops.
func (t *Tracker) HandleLeave(ctx context.Context, userID session.UserID, roomID session.RoomID) (FinalizeResult, error) {
	now := t.clock.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if s, ok := sh.active[userID]; ok && s.RoomID != roomID {
		return FinalizeResult{}, nil
	}
	return t.endLocked(ctx, sh, userID, now, true)
}

// HandleSwitch processes an upstream room-switch event.
func (t *Tracker) HandleSwitch(ctx context.Context, userID session.UserID, fromRoom, toRoom session.RoomID, toRoomLabel string) error {
	_ = fromRoom // the registry, not the event, is the source of truth for the old room
	return t.HandleJoin(ctx, userID, toRoom, toRoomLabel)
}

// RegistrySnapshot is a point-in-time census of the registry.
type RegistrySnapshot struct {
	Active int
	Grace  int
}

// Snapshot counts the sessions currently tracked, for logging and ops.
func (t *Tracker) Snapshot() RegistrySnapshot {
	var snap RegistrySnapshot
	for _, sh := range t.shards {
		sh.mu.Lock()
		snap.Active += len(sh.active)
		snap.Grace += len(sh.grace)
		sh.mu.Unlock()
	}
	return snap
}

// lookup returns a copy of the user's open session, for tests and
// introspection. The second return distinguishes Active from Grace.
func (t *Tracker) lookup(userID session.UserID) (*session.Session, bool) {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if s, ok := sh.active[userID]; ok {
		cp := *s
		return &cp, true
	}
	if entry, ok := sh.grace[userID]; ok {
		cp := *entry.Session
		return &cp, true
	}
	return nil, false
}

// markRetryable classifies a store error for the retry policy: transient
// store failures are retried, everything else is returned as-is.
func markRetryable(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsRetryable(err) {
		return retry.Retryable(err)
	}
	return err
}
