// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Clock errors
	ErrClockAnomaly = errors.New("clock anomaly")

	// External service errors
	ErrStoreUnavailable   = errors.New("persistent store unavailable")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "stats", "recovery"
	Op      string // Operation that failed, e.g., "Start", "Finalize"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	// ErrAlreadyActive is returned when a session start is attempted for a
	// user who already has an Active or Grace session. The caller should end
	// the existing session first, or treat the event as a room switch.
	ErrAlreadyActive = NewDomainError("session", "Start", ErrAlreadyExists, "user already has an active session")

	ErrSessionNotFound  = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionEnded     = NewDomainError("session", "Transition", ErrInvalidState, "session already ended")
	ErrGraceExpired     = NewDomainError("session", "Resume", ErrExpired, "grace window expired")
	ErrAlreadyFinalized = NewDomainError("session", "Finalize", ErrAlreadyProcessed, "session already finalized")
)

// Stats domain errors
var (
	ErrDailyStatNotFound = NewDomainError("stats", "Find", ErrNotFound, "daily stat not found")
	ErrStatArchived      = NewDomainError("stats", "Update", ErrInvalidState, "daily stat is archived")
)

// Recovery domain errors
var (
	// ErrRecoveryPartialFailure reports that one or more users failed to
	// reconcile during startup recovery. Recovery for the others completed.
	ErrRecoveryPartialFailure = NewDomainError("recovery", "Run", ErrInvalidState, "some users failed to reconcile")

	// ErrStoreUnreachableAtStart is the one fatal startup condition: without
	// the store's open-marker ground truth, recovery cannot run safely.
	ErrStoreUnreachableAtStart = NewDomainError("recovery", "Run", ErrStoreUnavailable, "persistent store unreachable at startup")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
