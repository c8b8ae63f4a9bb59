package domain

import "time"

// Category groups achievements and lifetime counters.
type Category string

const (
	CategoryReviews   Category = "reviews"
	CategoryFavorites Category = "favorites"
	CategoryKnown     Category = "known"
	CategoryAdds      Category = "adds"
	CategoryEdits     Category = "edits"
	CategoryDeletes   Category = "deletes"
)

// Categories lists every counter category in display order.
var Categories = []Category{
	CategoryReviews,
	CategoryFavorites,
	CategoryKnown,
	CategoryAdds,
	CategoryEdits,
	CategoryDeletes,
}

// Profile is the gamification state of the person reviewing.
type Profile struct {
	ID              int64
	Name            string
	XP              int
	Level           int
	Counters        map[Category]int
	CurrentStreak   int
	LongestStreak   int
	LastCheckinDate string // YYYY-MM-DD in the profile's location, empty if never
}

// Count returns the lifetime counter for a category.
func (p *Profile) Count(c Category) int {
	if p == nil || p.Counters == nil {
		return 0
	}
	return p.Counters[c]
}

// Achievement is a catalog entry unlocked once a category count reaches
// Threshold.
type Achievement struct {
	Code      string
	Category  Category
	Threshold int
	RewardXP  int
	Title     string
}

// AchievementUnlock records that a profile earned an achievement.
type AchievementUnlock struct {
	ProfileID  int64
	Code       string
	UnlockedAt time.Time
}

// ProfileContext identifies the profile being reviewed and the location
// its calendar days are counted in. It is owned by the caller and passed to
// every component explicitly.
type ProfileContext struct {
	ProfileID int64
	Location  *time.Location
}

// Loc returns the profile location, defaulting to the local zone.
func (pc ProfileContext) Loc() *time.Location {
	if pc.Location == nil {
		return time.Local
	}
	return pc.Location
}
