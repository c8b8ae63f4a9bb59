// Package fsrs schedules cards with the FSRS memory model and degrades to
// deterministic heuristics whenever the model cannot produce a new state.
package fsrs

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

const day = 24 * time.Hour

// DegradedReason explains why a Result came from a fallback policy instead
// of the memory model.
type DegradedReason int

const (
	// DegradedNone means the memory model produced the new state.
	DegradedNone DegradedReason = iota
	// DegradedUnchanged means the model returned the card untouched.
	DegradedUnchanged
	// DegradedFailed means the model errored or panicked.
	DegradedFailed
)

func (r DegradedReason) String() string {
	switch r {
	case DegradedNone:
		return "none"
	case DegradedUnchanged:
		return "unchanged"
	case DegradedFailed:
		return "failed"
	default:
		return fmt.Sprintf("DegradedReason(%d)", int(r))
	}
}

// CardInput is the prior state of a card. Nil fields fall back to the
// defaults of a freshly created card.
type CardInput struct {
	Stability  *float64
	Difficulty *float64
	State      *domain.CardState
	Due        *time.Time
	LastReview time.Time
	Lapses     int
}

// InputFrom builds a fully populated CardInput from a stored memory state.
func InputFrom(m domain.MemoryState) CardInput {
	in := CardInput{
		Stability:  &m.Stability,
		Difficulty: &m.Difficulty,
		LastReview: m.LastReview,
		Lapses:     m.Lapses,
	}
	if m.State != 0 {
		in.State = &m.State
	}
	if !m.Due.IsZero() {
		in.Due = &m.Due
	}
	return in
}

// Result is the next state of a reviewed card.
type Result struct {
	Stability    float64
	Difficulty   float64
	State        domain.CardState
	Due          time.Time
	IntervalDays int
	Lapses       int
	IsLapse      bool
	ReviewedAt   time.Time

	Degraded DegradedReason
	Cause    error // set when Degraded is DegradedFailed
}

// Apply copies the result into m, stamping it with the time it was scheduled at.
func (r Result) Apply(m *domain.MemoryState) {
	m.Stability = r.Stability
	m.Difficulty = r.Difficulty
	m.State = r.State
	m.Due = r.Due
	m.IntervalDays = r.IntervalDays
	m.Lapses = r.Lapses
	m.LastReview = r.ReviewedAt
}

// Working is the mutable card record an Updater operates on. Difficulty is
// normalized to [0,1].
type Working struct {
	Stability  float64
	Difficulty float64
	State      domain.CardState
	Due        time.Time
	LastReview time.Time
}

// Updater applies a rating to a working card in place. Leaving the card
// untouched is treated as a silent failure.
type Updater interface {
	Update(w *Working, rating domain.Rating, now time.Time) error
}

// Engine turns ratings into next card states.
type Engine struct {
	updater Updater
	logger  *slog.Logger
}

// NewEngine creates an engine backed by the FSRS model with the given
// weights. Weights of the wrong length are replaced by the defaults.
func NewEngine(weights []float64, logger *slog.Logger) *Engine {
	return NewEngineWithUpdater(newMemoryModel(weights), logger)
}

// NewEngineWithUpdater creates an engine around an arbitrary memory model.
func NewEngineWithUpdater(u Updater, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{updater: u, logger: logger}
}

// Review applies rating to the card described by in. It never fails: every
// failure of the memory model is absorbed by a fallback policy and reported
// through Result.Degraded.
func (e *Engine) Review(in CardInput, rating domain.Rating, now time.Time) Result {
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	rating = domain.ClampRating(int(rating))

	prior := hydrate(in, now)
	w := prior
	res := Result{ReviewedAt: now}

	if err := e.update(&w, rating, now); err != nil {
		w = Emergency(prior, rating, now)
		res.Degraded = DegradedFailed
		res.Cause = err
		e.logger.Warn("memory model failed, using emergency backoff", "rating", rating, "error", err)
	} else if unchanged(prior, w) {
		w = Fallback(prior, rating, now)
		res.Degraded = DegradedUnchanged
		e.logger.Warn("memory model returned card unchanged, using fallback", "rating", rating)
	}

	if rating == domain.Again {
		w.State = domain.Relearning
	} else {
		w.State = domain.Review
	}

	res.Stability = math.Max(0, w.Stability)
	res.Difficulty = clamp01(w.Difficulty)
	res.State = w.State
	res.Due, res.IntervalDays = enforceMinimumInterval(w.Due.UTC(), now)
	res.IsLapse = rating == domain.Again
	res.Lapses = max(0, in.Lapses)
	if res.IsLapse {
		res.Lapses++
	}
	return res
}

// update calls the memory model, converting panics and non-finite output
// into errors.
func (e *Engine) update(w *Working, rating domain.Rating, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("memory model panicked: %v", r)
		}
	}()
	if err := e.updater.Update(w, rating, now); err != nil {
		return err
	}
	if !finite(w.Stability) || !finite(w.Difficulty) {
		return fmt.Errorf("memory model produced non-finite state (stability=%v difficulty=%v)", w.Stability, w.Difficulty)
	}
	return nil
}

func hydrate(in CardInput, now time.Time) Working {
	w := Working{
		Stability:  domain.DefaultStability,
		Difficulty: domain.DefaultDifficulty,
		State:      domain.Learning,
		Due:        now,
		LastReview: in.LastReview.UTC(),
	}
	if in.Stability != nil && *in.Stability > 0 && finite(*in.Stability) {
		w.Stability = *in.Stability
	}
	if in.Difficulty != nil && finite(*in.Difficulty) {
		w.Difficulty = clamp01(*in.Difficulty)
	}
	if in.State != nil {
		switch *in.State {
		case domain.Learning, domain.Review, domain.Relearning:
			w.State = *in.State
		}
	}
	if in.Due != nil && !in.Due.IsZero() {
		w.Due = in.Due.UTC()
	}
	return w
}

func unchanged(before, after Working) bool {
	return math.Float64bits(before.Stability) == math.Float64bits(after.Stability) &&
		math.Float64bits(before.Difficulty) == math.Float64bits(after.Difficulty)
}

// enforceMinimumInterval keeps every scheduled review at least a day out.
func enforceMinimumInterval(due, now time.Time) (time.Time, int) {
	if !due.After(now) || due.Sub(now) < day {
		return now.Add(day), 1
	}
	return due, max(1, int(due.Sub(now)/day))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
