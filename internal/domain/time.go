package domain

import "time"

// DayOf normalizes a timestamp to its UTC calendar day (midnight). Session
// dates and report windows are always day-grained in UTC.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last instant of the UTC calendar day containing t,
// used to make endDate bounds inclusive.
func EndOfDay(t time.Time) time.Time {
	return DayOf(t).Add(24*time.Hour - time.Nanosecond)
}
