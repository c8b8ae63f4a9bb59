package domain

import "time"

// Action identifies the kind of activity recorded in the event log.
type Action string

const (
	ActionView     Action = "view"
	ActionFavorite Action = "favorite"
	ActionKnown    Action = "known"
	ActionAdd      Action = "add"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
)

// CountsTowardStreak reports whether the action is a genuine review
// activity. Content maintenance does not keep a streak alive.
func (a Action) CountsTowardStreak() bool {
	switch a {
	case ActionAdd, ActionEdit, ActionDelete:
		return false
	default:
		return true
	}
}

// ReviewEvent records a single item shown during a session.
// Rating is zero until the user grades the item. ElapsedSeconds is written
// once, when the item is replaced or the session ends.
type ReviewEvent struct {
	ID             int64
	CardID         int64
	SessionID      string
	ProfileID      int64
	Action         Action
	Rating         Rating
	OccurredAt     time.Time
	LocalDate      string // calendar date of OccurredAt in the profile's location
	ElapsedSeconds float64
	Finalized      bool
	TimedOut       bool
}

// Session is one contiguous stretch of reviewing.
type Session struct {
	ID              string
	ProfileID       int64
	Start           time.Time
	End             time.Time
	DurationSeconds float64
	TimedOut        bool
}

// Ended reports whether the session has been closed.
func (s Session) Ended() bool {
	return !s.End.IsZero()
}
