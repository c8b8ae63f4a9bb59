// Package gamify converts review activity into experience points, levels,
// streaks and achievements.
package gamify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// Store is the persistence the engine needs. Counter and XP updates must be
// atomic increments; UnlockAchievements must insert the unlocks and grant
// their reward XP in one transaction, ignoring unlocks that already exist.
type Store interface {
	Profile(ctx context.Context, profileID int64) (*domain.Profile, error)
	AddXP(ctx context.Context, profileID int64, delta int) (int, error)
	SetLevel(ctx context.Context, profileID int64, level int) error
	IncrementCounter(ctx context.Context, profileID int64, c domain.Category) (int, error)
	CountFlagged(ctx context.Context, c domain.Category) (int, error)

	LockedAchievements(ctx context.Context, profileID int64, c domain.Category, value int) ([]domain.Achievement, error)
	UnlockAchievements(ctx context.Context, profileID int64, achievements []domain.Achievement, at time.Time) ([]domain.Achievement, error)
	AllAchievementsUnlocked(ctx context.Context, profileID int64) (bool, error)

	ActivityDates(ctx context.Context, profileID int64) ([]string, error)
	SaveStreak(ctx context.Context, profileID int64, s Streak, lastCheckin string) error
}

// Award reports the outcome of one gamified activity.
type Award struct {
	XP        int                  `json:"xp"`
	Level     int                  `json:"level"`
	LeveledUp bool                 `json:"leveled_up"`
	Counted   bool                 `json:"counted"`
	Unlocked  []domain.Achievement `json:"unlocked,omitempty"`
}

// CheckIn reports the outcome of a daily check-in.
type CheckIn struct {
	Streak
	Today   string `json:"today"`
	BonusXP int    `json:"bonus_xp"`
}

// Engine applies the XP rules against a Store.
type Engine struct {
	store   Store
	curve   *Curve
	rewards Rewards
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an engine. A nil curve uses DefaultCurve.
func NewEngine(store Store, curve *Curve, rewards Rewards, logger *slog.Logger) *Engine {
	if curve == nil {
		curve = DefaultCurve()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, curve: curve, rewards: rewards, logger: logger, now: time.Now}
}

// Curve returns the level curve in use.
func (e *Engine) Curve() *Curve { return e.curve }

// AwardView grants XP for an item that was looked at for elapsed. Views
// under the grace period are ignored entirely.
func (e *Engine) AwardView(ctx context.Context, pc domain.ProfileContext, elapsed time.Duration) (Award, error) {
	xp, ok := e.rewards.ViewXP(elapsed)
	if !ok {
		return Award{}, nil
	}
	return e.award(ctx, pc, domain.CategoryReviews, xp, false)
}

// AwardAction grants the fixed XP of a favorite, known, add, edit or delete
// action.
func (e *Engine) AwardAction(ctx context.Context, pc domain.ProfileContext, action domain.Action) (Award, error) {
	xp, category, ok := e.rewards.ActionXP(action)
	if !ok {
		return Award{}, fmt.Errorf("action %q does not earn XP", action)
	}
	absolute := category == domain.CategoryFavorites || category == domain.CategoryKnown
	return e.award(ctx, pc, category, xp, absolute)
}

// award bumps the lifetime counter of category, grants xp and checks the
// category's achievements. Favorites and known cards are checked against
// the current number of flagged cards rather than the lifetime counter.
func (e *Engine) award(ctx context.Context, pc domain.ProfileContext, category domain.Category, xp int, absolute bool) (Award, error) {
	var errs []error
	award := Award{Counted: true}

	before, err := e.store.Profile(ctx, pc.ProfileID)
	if err != nil {
		errs = append(errs, err)
	}

	count, err := e.store.IncrementCounter(ctx, pc.ProfileID, category)
	if err != nil {
		e.logger.Warn("failed to increment counter", "category", category, "error", err)
		errs = append(errs, err)
	}
	if absolute {
		if count, err = e.store.CountFlagged(ctx, category); err != nil {
			e.logger.Warn("failed to count flagged cards", "category", category, "error", err)
			errs = append(errs, err)
		}
	}

	level, err := e.GrantXP(ctx, pc, xp)
	if err != nil {
		errs = append(errs, err)
		if before != nil {
			level = before.Level
		}
	} else {
		award.XP = xp
	}

	if count > 0 {
		unlocked, bonus, err := e.CheckAchievements(ctx, pc, category, count)
		if err != nil {
			errs = append(errs, err)
		}
		if len(unlocked) > 0 {
			award.Unlocked = unlocked
			award.XP += bonus
			if p, err := e.store.Profile(ctx, pc.ProfileID); err == nil {
				level = p.Level
			}
		}
	}

	award.Level = level
	if before != nil && level > before.Level {
		award.LeveledUp = true
	}
	return award, errors.Join(errs...)
}

// GrantXP adds amount XP and recomputes the level.
func (e *Engine) GrantXP(ctx context.Context, pc domain.ProfileContext, amount int) (int, error) {
	if amount > 0 {
		if _, err := e.store.AddXP(ctx, pc.ProfileID, amount); err != nil {
			e.logger.Warn("failed to add XP", "amount", amount, "error", err)
			return 0, fmt.Errorf("failed to grant %d XP: %w", amount, err)
		}
	}
	return e.RecomputeLevel(ctx, pc)
}

// RecomputeLevel derives the level from the stored XP. The final level is
// withheld until every catalog achievement is unlocked, so this must also
// run whenever the unlock set changes.
func (e *Engine) RecomputeLevel(ctx context.Context, pc domain.ProfileContext) (int, error) {
	p, err := e.store.Profile(ctx, pc.ProfileID)
	if err != nil {
		return 0, fmt.Errorf("failed to load profile for level recompute: %w", err)
	}
	level := e.curve.LevelForXP(p.XP)
	if level >= MaxLevel {
		all, err := e.store.AllAchievementsUnlocked(ctx, pc.ProfileID)
		if err != nil || !all {
			level = GatedLevel
		}
	}
	if level != p.Level {
		if err := e.store.SetLevel(ctx, pc.ProfileID, level); err != nil {
			e.logger.Warn("failed to store level", "level", level, "error", err)
			return p.Level, fmt.Errorf("failed to store level %d: %w", level, err)
		}
		e.logger.Info("level changed", "profile_id", pc.ProfileID, "from", p.Level, "to", level)
	}
	return level, nil
}

// CheckAchievements unlocks every achievement in category whose threshold
// is at most value and grants their combined reward. Achievements already
// unlocked are skipped, so calling it repeatedly is harmless.
func (e *Engine) CheckAchievements(ctx context.Context, pc domain.ProfileContext, category domain.Category, value int) ([]domain.Achievement, int, error) {
	locked, err := e.store.LockedAchievements(ctx, pc.ProfileID, category, value)
	if err != nil {
		e.logger.Warn("failed to list locked achievements", "category", category, "error", err)
		return nil, 0, fmt.Errorf("failed to list locked %s achievements: %w", category, err)
	}
	if len(locked) == 0 {
		return nil, 0, nil
	}

	unlocked, err := e.store.UnlockAchievements(ctx, pc.ProfileID, locked, e.now().UTC())
	if err != nil {
		e.logger.Warn("failed to unlock achievements", "category", category, "error", err)
		return nil, 0, fmt.Errorf("failed to unlock %s achievements: %w", category, err)
	}

	bonus := 0
	for _, a := range unlocked {
		bonus += a.RewardXP
		e.logger.Info("achievement unlocked", "profile_id", pc.ProfileID, "code", a.Code, "reward_xp", a.RewardXP)
	}
	if _, err := e.RecomputeLevel(ctx, pc); err != nil {
		return unlocked, bonus, err
	}
	return unlocked, bonus, nil
}

// CheckIn re-derives the streaks from the full activity history and grants
// the daily bonus the first time activity is seen on a new day.
func (e *Engine) CheckIn(ctx context.Context, pc domain.ProfileContext, now time.Time) (CheckIn, error) {
	today := DateOf(now, pc.Loc())
	result := CheckIn{Today: today}

	dates, err := e.store.ActivityDates(ctx, pc.ProfileID)
	if err != nil {
		e.logger.Warn("failed to load activity dates", "error", err)
		return result, fmt.Errorf("failed to load activity dates: %w", err)
	}
	p, err := e.store.Profile(ctx, pc.ProfileID)
	if err != nil {
		return result, fmt.Errorf("failed to load profile for check-in: %w", err)
	}
	result.Streak = DeriveStreak(dates, today)

	latest := ""
	for _, d := range dates {
		if d > latest {
			latest = d
		}
	}

	lastCheckin := p.LastCheckinDate
	var errs []error
	if latest == today && latest > p.LastCheckinDate {
		lastCheckin = today
		if _, err := e.GrantXP(ctx, pc, e.rewards.CheckinXP); err != nil {
			errs = append(errs, err)
		} else {
			result.BonusXP = e.rewards.CheckinXP
		}
	}
	if err := e.store.SaveStreak(ctx, pc.ProfileID, result.Streak, lastCheckin); err != nil {
		e.logger.Warn("failed to save streak", "error", err)
		errs = append(errs, fmt.Errorf("failed to save streak: %w", err))
	}
	return result, errors.Join(errs...)
}

// LevelProgress reports the stored level and the XP position within it.
func (e *Engine) LevelProgress(ctx context.Context, pc domain.ProfileContext) (LevelProgress, error) {
	p, err := e.store.Profile(ctx, pc.ProfileID)
	if err != nil {
		return LevelProgress{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return e.curve.Progress(p.XP, p.Level), nil
}
