package tracker

import "time"

// Clock supplies wall-clock reads for the engine. Abstracted so tests can
// inject fixed times and drive day boundaries deterministically.
type Clock interface {
	// Now returns the current time in the hub timezone.
	Now() time.Time
}

// SystemClock reads the system clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// NewSystemClock creates a SystemClock for the given location.
// A nil location falls back to UTC.
func NewSystemClock(loc *time.Location) SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return SystemClock{Location: loc}
}

// Now implements Clock.
func (c SystemClock) Now() time.Time {
	return time.Now().In(c.Location)
}
