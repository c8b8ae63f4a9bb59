package gamify

import (
	"math"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// Rewards configures how much XP each activity is worth.
type Rewards struct {
	// Views shorter than GraceSeconds earn nothing.
	GraceSeconds     float64 `koanf:"grace_seconds" validate:"gte=0"`
	BaseXP           int     `koanf:"base_xp" validate:"gte=0"`
	BonusStepSeconds float64 `koanf:"bonus_step_seconds" validate:"gt=0"`
	BonusCap         int     `koanf:"bonus_cap" validate:"gte=0"`

	FavoriteXP int `koanf:"favorite_xp" validate:"gte=0"`
	KnownXP    int `koanf:"known_xp" validate:"gte=0"`
	AddXP      int `koanf:"add_xp" validate:"gte=0"`
	EditXP     int `koanf:"edit_xp" validate:"gte=0"`
	DeleteXP   int `koanf:"delete_xp" validate:"gte=0"`
	CheckinXP  int `koanf:"checkin_xp" validate:"gte=0"`
}

// DefaultRewards returns the stock XP table.
func DefaultRewards() Rewards {
	return Rewards{
		GraceSeconds:     3,
		BaseXP:           10,
		BonusStepSeconds: 5,
		BonusCap:         10,
		FavoriteXP:       2,
		KnownXP:          5,
		AddXP:            15,
		EditXP:           5,
		DeleteXP:         1,
		CheckinXP:        25,
	}
}

// ViewXP returns the XP earned for looking at an item for elapsed, and
// whether the view counted at all.
func (r Rewards) ViewXP(elapsed time.Duration) (int, bool) {
	secs := elapsed.Seconds()
	if secs < r.GraceSeconds {
		return 0, false
	}
	bonus := 0
	if r.BonusStepSeconds > 0 {
		bonus = int(math.Floor((secs - r.GraceSeconds) / r.BonusStepSeconds))
	}
	return r.BaseXP + min(r.BonusCap, bonus), true
}

// ActionXP returns the fixed XP and counter category of a non-view action.
func (r Rewards) ActionXP(a domain.Action) (int, domain.Category, bool) {
	switch a {
	case domain.ActionFavorite:
		return r.FavoriteXP, domain.CategoryFavorites, true
	case domain.ActionKnown:
		return r.KnownXP, domain.CategoryKnown, true
	case domain.ActionAdd:
		return r.AddXP, domain.CategoryAdds, true
	case domain.ActionEdit:
		return r.EditXP, domain.CategoryEdits, true
	case domain.ActionDelete:
		return r.DeleteXP, domain.CategoryDeletes, true
	default:
		return 0, "", false
	}
}
