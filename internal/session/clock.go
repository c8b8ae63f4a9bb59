package session

import "time"

// ActivityClock supplies the current time. Tests substitute a manual clock
// so idle and pause behavior can be exercised without real timers.
type ActivityClock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
