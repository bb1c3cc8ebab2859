// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import "time"

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the presence-session lifecycle.
const (
	// Session lifecycle events
	EventSessionStarted EventType = "session.started"
	EventSessionHeld    EventType = "session.held"
	EventSessionResumed EventType = "session.resumed"

	// EventSessionFinalized is the downstream notification consumed by the
	// cache-invalidation/read-model layer. Delivery is at-least-once;
	// consumers must be idempotent.
	EventSessionFinalized EventType = "session.finalized"

	// Boundary and recovery events
	EventDayRolledOver    EventType = "day.rolled_over"
	EventSessionRecovered EventType = "session.recovered"
	EventSessionSwept     EventType = "session.swept"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType { return e.Type }

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string { return e.AggregateId }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// SessionStartedEvent is emitted when a user's presence session opens.
type SessionStartedEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	RoomID    string    `json:"room_id"`
	RoomLabel string    `json:"room_label"`
	StartedAt time.Time `json:"started_at"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"room_id":    e.RoomID,
		"room_label": e.RoomLabel,
		"started_at": e.StartedAt.Format(time.RFC3339),
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(userID, sessionID, roomID, roomLabel string, startedAt time.Time) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, userID),
		UserID:    userID,
		SessionID: sessionID,
		RoomID:    roomID,
		RoomLabel: roomLabel,
		StartedAt: startedAt,
	}
}

// SessionHeldEvent is emitted when a session enters its grace window.
type SessionHeldEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payload implements Event interface.
func (e SessionHeldEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"room_id":    e.RoomID,
		"expires_at": e.ExpiresAt.Format(time.RFC3339),
	}
}

// NewSessionHeldEvent creates a new SessionHeldEvent.
func NewSessionHeldEvent(userID, sessionID, roomID string, expiresAt time.Time) SessionHeldEvent {
	return SessionHeldEvent{
		BaseEvent: NewBaseEvent(EventSessionHeld, userID),
		UserID:    userID,
		SessionID: sessionID,
		RoomID:    roomID,
		ExpiresAt: expiresAt,
	}
}

// SessionResumedEvent is emitted when a user rejoins within the grace window.
type SessionResumedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
}

// Payload implements Event interface.
func (e SessionResumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"room_id":    e.RoomID,
	}
}

// NewSessionResumedEvent creates a new SessionResumedEvent.
func NewSessionResumedEvent(userID, sessionID, roomID string) SessionResumedEvent {
	return SessionResumedEvent{
		BaseEvent: NewBaseEvent(EventSessionResumed, userID),
		UserID:    userID,
		SessionID: sessionID,
		RoomID:    roomID,
	}
}

// SessionFinalizedEvent is emitted once per finalized session.
type SessionFinalizedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	Date      string `json:"date"` // YYYY-MM-DD, the day the minutes were credited to
	Minutes   int    `json:"minutes"`
	Points    int    `json:"points"`

	// EstimatedClose marks a finalize whose end time was reconstructed
	// during recovery rather than observed.
	EstimatedClose bool `json:"estimated_close,omitempty"`

	// ClockAnomaly marks a finalize whose elapsed time was clamped because
	// the raw value was negative or implausibly large. Flagged for audit.
	ClockAnomaly bool `json:"clock_anomaly,omitempty"`
}

// Payload implements Event interface.
func (e SessionFinalizedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"session_id":      e.SessionID,
		"room_id":         e.RoomID,
		"date":            e.Date,
		"minutes":         e.Minutes,
		"points":          e.Points,
		"estimated_close": e.EstimatedClose,
		"clock_anomaly":   e.ClockAnomaly,
	}
}

// NewSessionFinalizedEvent creates a new SessionFinalizedEvent.
func NewSessionFinalizedEvent(userID, sessionID, roomID, date string, minutes, points int) SessionFinalizedEvent {
	return SessionFinalizedEvent{
		BaseEvent: NewBaseEvent(EventSessionFinalized, userID),
		UserID:    userID,
		SessionID: sessionID,
		RoomID:    roomID,
		Date:      date,
		Minutes:   minutes,
		Points:    points,
	}
}

// DayRolledOverEvent is emitted when the midnight coordinator splits the
// open sessions at a calendar-day boundary.
type DayRolledOverEvent struct {
	BaseEvent
	Date          string `json:"date"` // the new day, YYYY-MM-DD
	SessionsSplit int    `json:"sessions_split"`
}

// Payload implements Event interface.
func (e DayRolledOverEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":           e.Date,
		"sessions_split": e.SessionsSplit,
	}
}

// NewDayRolledOverEvent creates a new DayRolledOverEvent.
func NewDayRolledOverEvent(date string, sessionsSplit int) DayRolledOverEvent {
	return DayRolledOverEvent{
		BaseEvent:     NewBaseEvent(EventDayRolledOver, date),
		Date:          date,
		SessionsSplit: sessionsSplit,
	}
}

// SessionRecoveredEvent is emitted when startup recovery reconstructs a
// session from a crash-left open marker.
type SessionRecoveredEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	Capped    bool   `json:"capped"` // recovered duration hit the configured cap
}

// Payload implements Event interface.
func (e SessionRecoveredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"room_id":    e.RoomID,
		"capped":     e.Capped,
	}
}

// NewSessionRecoveredEvent creates a new SessionRecoveredEvent.
func NewSessionRecoveredEvent(userID, sessionID, roomID string, capped bool) SessionRecoveredEvent {
	return SessionRecoveredEvent{
		BaseEvent: NewBaseEvent(EventSessionRecovered, userID),
		UserID:    userID,
		SessionID: sessionID,
		RoomID:    roomID,
		Capped:    capped,
	}
}

// Reasons a session was settled by the sweeper rather than by a leave.
const (
	SweepReasonGraceExpired = "grace_expired"
	SweepReasonStale        = "stale"
)

// SessionSweptEvent is emitted when the periodic sweep settles a session
// nobody closed: an expired grace hold or a stale heartbeat. The
// accompanying credit is carried by the SessionFinalizedEvent for the
// same session; this event exists for ops visibility into forced closes.
type SessionSweptEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e SessionSweptEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"room_id":    e.RoomID,
		"reason":     e.Reason,
	}
}

// NewSessionSweptEvent creates a new SessionSweptEvent.
func NewSessionSweptEvent(userID, sessionID, roomID, reason string) SessionSweptEvent {
	return SessionSweptEvent{
		BaseEvent: NewBaseEvent(EventSessionSwept, userID),
		UserID:    userID,
		SessionID: sessionID,
		RoomID:    roomID,
		Reason:    reason,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
