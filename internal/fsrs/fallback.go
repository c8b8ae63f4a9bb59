package fsrs

import (
	"math"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// emergencyFactors scale stability after a hard model failure.
var emergencyFactors = map[domain.Rating]float64{
	domain.Hard: 1.5,
	domain.Good: 2.0,
	domain.Easy: 3.0,
}

// Fallback is the manual policy used when the memory model leaves a card
// untouched.
func Fallback(w Working, rating domain.Rating, now time.Time) Working {
	switch rating {
	case domain.Again:
		w.Stability = math.Max(0.1, w.Stability*0.2)
		w.Difficulty = math.Min(1.0, w.Difficulty+0.15)
		w.State = domain.Relearning
	case domain.Hard:
		w.Stability *= 1.2
		w.Difficulty = math.Min(1.0, w.Difficulty+0.05)
		w.State = domain.Review
	case domain.Good:
		w.Stability = math.Max(1.0, w.Stability*1.5)
		w.Difficulty = math.Max(0.1, w.Difficulty-0.05)
		w.State = domain.Review
	default:
		w.Stability = math.Max(1.0, w.Stability*3.0)
		w.Difficulty = math.Max(0.1, w.Difficulty-0.1)
		w.State = domain.Review
	}
	w.Due = dueAfter(now, w.Stability)
	return w
}

// Emergency is the exponential backoff used when the memory model fails
// outright.
func Emergency(w Working, rating domain.Rating, now time.Time) Working {
	if rating == domain.Again {
		w.Stability = 0.1
		w.Difficulty = math.Min(1.0, w.Difficulty+0.2)
		w.State = domain.Relearning
		w.Due = now.Add(day)
		return w
	}
	w.Stability *= emergencyFactors[rating]
	w.Difficulty = math.Max(0, w.Difficulty-0.1)
	w.State = domain.Review
	w.Due = dueAfter(now, w.Stability)
	return w
}

// maxIntervalDays matches the FSRS default maximum interval.
const maxIntervalDays = 36500

func dueAfter(now time.Time, stability float64) time.Time {
	days := math.Min(maxIntervalDays, math.Max(1, math.Round(stability)))
	return now.Add(time.Duration(days) * day)
}
