// Package timer provides a pause-aware stopwatch for measuring attentive
// time.
package timer

import "time"

// Stopwatch measures elapsed time while excluding paused spans. The zero
// value is a stopped stopwatch. It is not safe for concurrent use.
type Stopwatch struct {
	start    time.Time
	pausedAt time.Time
	running  bool
	paused   bool
}

// Start (re)starts the stopwatch at now, discarding any prior measurement.
func (s *Stopwatch) Start(now time.Time) {
	*s = Stopwatch{start: now, running: true}
}

// Stop resets the stopwatch.
func (s *Stopwatch) Stop() {
	*s = Stopwatch{}
}

// Running reports whether the stopwatch has been started.
func (s *Stopwatch) Running() bool { return s.running }

// Paused reports whether the stopwatch is currently paused.
func (s *Stopwatch) Paused() bool { return s.paused }

// StartedAt returns the effective start time, shifted forward by every
// completed pause.
func (s *Stopwatch) StartedAt() time.Time { return s.start }

// PausedAt returns when the current pause began, or the zero time.
func (s *Stopwatch) PausedAt() time.Time { return s.pausedAt }

// Pause freezes the stopwatch at now. It returns false if the stopwatch is
// not running or already paused.
func (s *Stopwatch) Pause(now time.Time) bool {
	if !s.running || s.paused {
		return false
	}
	s.paused = true
	s.pausedAt = now
	return true
}

// Resume continues a paused stopwatch and returns how long it was paused.
// Resuming a stopwatch that is not paused does nothing.
func (s *Stopwatch) Resume(now time.Time) (time.Duration, bool) {
	if !s.running || !s.paused {
		return 0, false
	}
	gap := max(0, now.Sub(s.pausedAt))
	s.start = s.start.Add(gap)
	s.paused = false
	s.pausedAt = time.Time{}
	return gap, true
}

// ElapsedAt returns the measured time up to cutoff. A pending pause caps
// the measurement at the moment it began, and clock skew never produces a
// negative duration.
func (s *Stopwatch) ElapsedAt(cutoff time.Time) time.Duration {
	if !s.running {
		return 0
	}
	end := cutoff
	if s.paused && s.pausedAt.Before(end) {
		end = s.pausedAt
	}
	return max(0, end.Sub(s.start))
}
