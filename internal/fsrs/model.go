package fsrs

import (
	"fmt"
	"math"
	"time"

	gofsrs "github.com/open-spaced-repetition/go-fsrs/v3"

	"github.com/conorfennell/recall/internal/domain"
)

// The FSRS model grades difficulty on [1,10]; cards store it on [0,1].
const (
	modelMinDifficulty = 1.0
	modelMaxDifficulty = 10.0
)

// memoryModel adapts go-fsrs to the Updater interface.
type memoryModel struct {
	scheduler *gofsrs.FSRS
}

func newMemoryModel(weights []float64) *memoryModel {
	params := gofsrs.DefaultParam()
	if len(weights) == NumWeights {
		copy(params.W[:], weights)
	}
	params.EnableFuzz = false
	return &memoryModel{scheduler: gofsrs.NewFSRS(params)}
}

func (m *memoryModel) Update(w *Working, rating domain.Rating, now time.Time) error {
	card := gofsrs.Card{
		Due:        w.Due,
		Stability:  w.Stability,
		Difficulty: toModelDifficulty(w.Difficulty),
		State:      gofsrs.State(w.State),
		Reps:       1,
		LastReview: lastReview(w, now),
	}

	info, ok := m.scheduler.Repeat(card, now)[gofsrs.Rating(rating)]
	if !ok {
		return fmt.Errorf("no schedule for rating %s", rating)
	}
	next := info.Card
	if math.Float64bits(next.Stability) == math.Float64bits(card.Stability) &&
		math.Float64bits(next.Difficulty) == math.Float64bits(card.Difficulty) {
		return nil
	}

	w.Stability = next.Stability
	w.Difficulty = fromModelDifficulty(next.Difficulty)
	w.State = domain.CardState(next.State)
	w.Due = next.Due.UTC()
	return nil
}

// lastReview estimates the previous review when the card never recorded
// one, so elapsed time is derived from the scheduled interval.
func lastReview(w *Working, now time.Time) time.Time {
	last := w.LastReview
	if last.IsZero() {
		last = w.Due.Add(-time.Duration(math.Min(maxIntervalDays, math.Round(w.Stability))) * day)
	}
	if last.After(now) {
		last = now
	}
	return last
}

func toModelDifficulty(d float64) float64 {
	return modelMinDifficulty + clamp01(d)*(modelMaxDifficulty-modelMinDifficulty)
}

func fromModelDifficulty(d float64) float64 {
	return clamp01((d - modelMinDifficulty) / (modelMaxDifficulty - modelMinDifficulty))
}
