// Package session contains the domain entities and state machine for
// presence sessions: one contiguous (modulo grace gaps) presence interval
// for a user in a room, pending finalization.
// This is a pure domain layer with zero external dependencies.
package session

import (
	"errors"
	"time"
)

// Domain errors for the session package.
var (
	ErrInvalidUserID   = errors.New("session: invalid user ID")
	ErrInvalidRoomID   = errors.New("session: invalid room ID")
	ErrInvalidID       = errors.New("session: invalid session ID")
	ErrNotActive       = errors.New("session: session is not active")
	ErrNotInGrace      = errors.New("session: session is not in grace")
	ErrAlreadyEnded    = errors.New("session: session already ended")
	ErrEndBeforeStart  = errors.New("session: end time cannot be before start time")
	ErrFutureTimestamp = errors.New("session: timestamp cannot be in the future")
)

// UserID identifies a hub member. One Active or Grace session may exist
// per user at any time.
type UserID string

// IsValid checks if the user ID is valid.
func (u UserID) IsValid() bool { return u != "" }

// String returns the string representation of UserID.
func (u UserID) String() string { return string(u) }

// RoomID identifies a shared room (voice channel).
type RoomID string

// IsValid checks if the room ID is valid.
func (r RoomID) IsValid() bool { return r != "" }

// String returns the string representation of RoomID.
func (r RoomID) String() string { return string(r) }

// ID identifies a single session. It is the idempotence key for finalize
// writes: the same session ID is never credited twice.
type ID string

// IsValid checks if the session ID is valid.
func (i ID) IsValid() bool { return i != "" }

// String returns the string representation of ID.
func (i ID) String() string { return string(i) }

// State represents the lifecycle state of a session.
type State string

const (
	// StateActive means the user is currently present in the room.
	StateActive State = "active"

	// StateGrace means the user disconnected but may still rejoin within
	// the grace window without losing session continuity.
	StateGrace State = "grace"

	// StateEnded is terminal; the session has been handed to finalization.
	StateEnded State = "ended"
)

// Session is one time-tracked presence interval.
//
// Minute accounting works in segments: each Active stretch banks its whole
// minutes into AccumulatedMinutes when the session is held or split, and
// SegmentStartedAt marks where the current Active stretch began. Grace time
// is therefore never credited, while StartedAt is preserved across grace
// gaps so the session reads as one continuous interval.
type Session struct {
	ID        ID
	UserID    UserID
	RoomID    RoomID
	RoomLabel string

	// StartedAt is the original join instant. Preserved across grace
	// gaps and never reset by a rejoin.
	StartedAt time.Time

	// LastHeartbeatAt is the most recent presence signal. The sweeper
	// force-closes sessions whose heartbeat has gone stale.
	LastHeartbeatAt time.Time

	// SegmentStartedAt is the start of the current Active stretch:
	// StartedAt, a grace-resume instant, or a day-boundary split point.
	SegmentStartedAt time.Time

	// AccumulatedMinutes are whole minutes already banked toward the
	// current calendar day from previous Active stretches.
	AccumulatedMinutes int

	// HeldAt is the leave instant that moved the session into Grace.
	// Zero unless State is Grace.
	HeldAt time.Time

	State State
}

// New creates a new Active session starting at now.
func New(id ID, userID UserID, roomID RoomID, roomLabel string, now time.Time) (*Session, error) {
	if !id.IsValid() {
		return nil, ErrInvalidID
	}
	if !userID.IsValid() {
		return nil, ErrInvalidUserID
	}
	if !roomID.IsValid() {
		return nil, ErrInvalidRoomID
	}

	return &Session{
		ID:               id,
		UserID:           userID,
		RoomID:           roomID,
		RoomLabel:        roomLabel,
		StartedAt:        now,
		LastHeartbeatAt:  now,
		SegmentStartedAt: now,
		State:            StateActive,
	}, nil
}

// Rebuild reconstructs an Active session from a durable open marker during
// startup recovery. The caller decides the effective start (it may be capped
// below the marker's original start).
func Rebuild(id ID, userID UserID, roomID RoomID, roomLabel string, startedAt, lastHeartbeatAt time.Time) (*Session, error) {
	s, err := New(id, userID, roomID, roomLabel, startedAt)
	if err != nil {
		return nil, err
	}
	if lastHeartbeatAt.After(startedAt) {
		s.LastHeartbeatAt = lastHeartbeatAt
	}
	return s, nil
}

// Heartbeat refreshes the last presence signal.
func (s *Session) Heartbeat(now time.Time) error {
	if s.State == StateEnded {
		return ErrAlreadyEnded
	}
	if now.After(s.LastHeartbeatAt) {
		s.LastHeartbeatAt = now
	}
	return nil
}

// Hold transitions Active -> Grace at the leave instant. The current
// segment's minutes are banked; no points are awarded yet.
func (s *Session) Hold(now time.Time) error {
	if s.State != StateActive {
		if s.State == StateEnded {
			return ErrAlreadyEnded
		}
		return ErrNotActive
	}
	if now.Before(s.SegmentStartedAt) {
		return ErrEndBeforeStart
	}

	s.AccumulatedMinutes += minutesBetween(s.SegmentStartedAt, now)
	s.HeldAt = now
	s.State = StateGrace
	return nil
}

// Resume transitions Grace -> Active at the rejoin instant. The grace gap
// is excluded from credit: a new segment starts at now, while StartedAt
// and AccumulatedMinutes continue from before the gap.
func (s *Session) Resume(now time.Time) error {
	if s.State != StateGrace {
		if s.State == StateEnded {
			return ErrAlreadyEnded
		}
		return ErrNotInGrace
	}

	s.SegmentStartedAt = now
	s.LastHeartbeatAt = now
	s.HeldAt = time.Time{}
	s.State = StateActive
	return nil
}

// End marks the session terminal. The entry is removed from the registry
// once its finalize write succeeds.
func (s *Session) End() error {
	if s.State == StateEnded {
		return ErrAlreadyEnded
	}
	s.State = StateEnded
	return nil
}

// ElapsedMinutesAt returns the whole minutes of credited presence up to
// now: banked minutes plus the running segment for Active sessions. For a
// Grace session this is exactly the credit up to the leave instant, which
// is what an expiry finalize must award.
func (s *Session) ElapsedMinutesAt(now time.Time) int {
	switch s.State {
	case StateActive:
		return s.AccumulatedMinutes + minutesBetween(s.SegmentStartedAt, now)
	default:
		return s.AccumulatedMinutes
	}
}

// SplitAt implements the day-boundary rollover for one session. It banks
// everything before the boundary, returns the minute credit owed to the
// prior day, and produces a successor session that starts exactly at the
// boundary with the same user, room, and state.
//
// Invariant: minutes(prior day) + successor.ElapsedMinutesAt(t) equals the
// uninterrupted elapsed minutes for any t after the boundary.
func (s *Session) SplitAt(boundary time.Time, successorID ID) (*Session, int, error) {
	if s.State == StateEnded {
		return nil, 0, ErrAlreadyEnded
	}
	if !successorID.IsValid() {
		return nil, 0, ErrInvalidID
	}

	priorMinutes := s.ElapsedMinutesAt(boundary)

	successor := &Session{
		ID:               successorID,
		UserID:           s.UserID,
		RoomID:           s.RoomID,
		RoomLabel:        s.RoomLabel,
		StartedAt:        boundary,
		LastHeartbeatAt:  s.LastHeartbeatAt,
		SegmentStartedAt: boundary,
		State:            s.State,
	}
	if s.State == StateGrace {
		// The successor carries the grace hold. All pre-boundary credit
		// went to the prior day, so its banked minutes are zero.
		successor.HeldAt = s.HeldAt
	}
	if boundary.After(successor.LastHeartbeatAt) {
		successor.LastHeartbeatAt = boundary
	}

	// Bank the prior-day credit so finalizing the ended predecessor reads
	// the same number SplitAt reported.
	s.AccumulatedMinutes = priorMinutes
	s.State = StateEnded
	return successor, priorMinutes, nil
}

// IsOpen reports whether the session is Active or Grace.
func (s *Session) IsOpen() bool {
	return s.State == StateActive || s.State == StateGrace
}

// IsActive reports whether the session is Active.
func (s *Session) IsActive() bool { return s.State == StateActive }

// IsInGrace reports whether the session is in its grace window.
func (s *Session) IsInGrace() bool { return s.State == StateGrace }

// minutesBetween returns whole minutes from 'from' to 'to', never negative.
func minutesBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / time.Minute)
}

// GraceEntry ties a held session to its expiry deadline. It is destroyed
// on rejoin (merged back into the registry) or on expiry (converted to a
// finalize call by the sweeper).
type GraceEntry struct {
	Session   *Session
	HeldAt    time.Time
	ExpiresAt time.Time
}

// NewGraceEntry creates a grace entry for a session held at heldAt.
func NewGraceEntry(s *Session, heldAt time.Time, window time.Duration) *GraceEntry {
	return &GraceEntry{
		Session:   s,
		HeldAt:    heldAt,
		ExpiresAt: heldAt.Add(window),
	}
}

// FinalizeAt returns the instant an expired or confirmed hold should be
// settled at. Normally the leave instant; for an entry carried across a
// day split the session itself starts later, and the settle must not
// reach back before it.
func (g *GraceEntry) FinalizeAt() time.Time {
	if g.HeldAt.Before(g.Session.StartedAt) {
		return g.Session.StartedAt
	}
	return g.HeldAt
}

// Expired reports whether the grace window has elapsed at now.
func (g *GraceEntry) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// OpenMarker is the durable "session open" record used for crash recovery.
type OpenMarker struct {
	SessionID       ID
	UserID          UserID
	RoomID          RoomID
	RoomLabel       string
	StartedAt       time.Time
	LastHeartbeatAt time.Time
}
