package domain

import "time"

// Fact represents a single question-answer-context entry as authored in a
// source file.
type Fact struct {
	Question string
	Answer   string
	Context  string
	Hash     string
}

// CardState is the learning phase of a card in the memory model.
type CardState int

const (
	Learning   CardState = 1
	Review     CardState = 2
	Relearning CardState = 3
)

func (s CardState) String() string {
	switch s {
	case Learning:
		return "learning"
	case Review:
		return "review"
	case Relearning:
		return "relearning"
	default:
		return "unknown"
	}
}

// Rating is the user's response to a card review.
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// ClampRating maps any integer grade into the Again..Easy range.
func ClampRating(grade int) Rating {
	if grade < int(Again) {
		return Again
	}
	if grade > int(Easy) {
		return Easy
	}
	return Rating(grade)
}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	default:
		return "unknown"
	}
}

// Default memory values for a freshly created card.
const (
	DefaultStability  = 0.1
	DefaultDifficulty = 0.3
)

// MemoryState holds the scheduling fields of a card.
type MemoryState struct {
	Stability    float64
	Difficulty   float64
	State        CardState
	Due          time.Time
	IntervalDays int
	Lapses       int
	LastReview   time.Time
}

// NewMemoryState returns the memory state assigned when a fact is created.
func NewMemoryState(now time.Time) MemoryState {
	return MemoryState{
		Stability:    DefaultStability,
		Difficulty:   DefaultDifficulty,
		State:        Learning,
		Due:          now.UTC(),
		IntervalDays: 1,
	}
}

// Card is a stored fact together with its memory state and flags.
type Card struct {
	ID int64
	Fact
	MemoryState
	Favorite  bool
	Known     bool
	SourceID  int64
	CreatedAt time.Time
}
