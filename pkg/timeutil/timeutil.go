// Package timeutil provides calendar-day helpers for the presence tracking
// engine. Day boundaries are computed in the location carried by the time
// value itself, so the engine can run in any configured hub timezone.
// No external dependencies - uses only standard library.
package timeutil

import "time"

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatMonth is the month key format (YYYY-MM).
	FormatMonth = "2006-01"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// StartOfDay returns midnight (00:00:00) of the day containing t,
// in t's own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of the day containing t.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

// NextMidnight returns the first instant of the day after t.
// AddDate handles DST transitions, so the result is a real wall-clock
// midnight even on 23- or 25-hour days.
func NextMidnight(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

// DateOf returns the date portion of t as a midnight time value.
// Two times on the same calendar day map to the same DateOf value,
// which is what daily stat rows are keyed by.
func DateOf(t time.Time) time.Time {
	return StartOfDay(t)
}

// DateString formats t as a YYYY-MM-DD date string.
func DateString(t time.Time) string {
	return t.Format(FormatDate)
}

// MonthString formats t as a YYYY-MM month key.
func MonthString(t time.Time) string {
	return t.Format(FormatMonth)
}

// SameDay reports whether a and b fall on the same calendar day,
// comparing in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// MinutesBetween returns the number of whole minutes from 'from' to 'to'.
// Returns 0 when 'to' is not after 'from'; elapsed-time accounting never
// produces negative credit.
func MinutesBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / time.Minute)
}

// StartOfMonth returns the first instant of the month containing t.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD date string in the given location.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, loc)
}
