package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/gamify"
)

// EnsureProfile returns the id of the named profile, creating it on first use.
func (db *DB) EnsureProfile(ctx context.Context, name string) (int64, error) {
	_, err := db.conn.ExecContext(ctx, `INSERT OR IGNORE INTO profiles (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create profile %s: %w", name, err)
	}
	var id int64
	if err := db.conn.QueryRowContext(ctx, `SELECT id FROM profiles WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up profile %s: %w", name, err)
	}
	return id, nil
}

// Profile loads a profile with its lifetime counters.
func (db *DB) Profile(ctx context.Context, profileID int64) (*domain.Profile, error) {
	p := domain.Profile{Counters: make(map[domain.Category]int, len(domain.Categories))}
	var reviews, favorites, known, adds, edits, deletes int
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, xp, level, reviews, favorites, known, adds, edits, deletes,
			current_streak, longest_streak, last_checkin_date
		FROM profiles WHERE id = ?
	`, profileID).Scan(
		&p.ID,
		&p.Name,
		&p.XP,
		&p.Level,
		&reviews,
		&favorites,
		&known,
		&adds,
		&edits,
		&deletes,
		&p.CurrentStreak,
		&p.LongestStreak,
		&p.LastCheckinDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %d: %w", profileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load profile %d: %w", profileID, err)
	}
	p.Counters[domain.CategoryReviews] = reviews
	p.Counters[domain.CategoryFavorites] = favorites
	p.Counters[domain.CategoryKnown] = known
	p.Counters[domain.CategoryAdds] = adds
	p.Counters[domain.CategoryEdits] = edits
	p.Counters[domain.CategoryDeletes] = deletes
	return &p, nil
}

// AddXP adds delta to the profile's XP and returns the new total. XP never
// drops below zero.
func (db *DB) AddXP(ctx context.Context, profileID int64, delta int) (int, error) {
	var xp int
	err := db.conn.QueryRowContext(ctx, `
		UPDATE profiles SET xp = MAX(0, xp + ?) WHERE id = ? RETURNING xp
	`, delta, profileID).Scan(&xp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("profile %d: %w", profileID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to add XP to profile %d: %w", profileID, err)
	}
	return xp, nil
}

// SetLevel stores the profile's level.
func (db *DB) SetLevel(ctx context.Context, profileID int64, level int) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE profiles SET level = ? WHERE id = ?`, level, profileID)
	if err != nil {
		return fmt.Errorf("failed to set level of profile %d: %w", profileID, err)
	}
	return expectOne(res, fmt.Sprintf("profile %d", profileID))
}

// IncrementCounter bumps the lifetime counter of a category and returns
// the new value.
func (db *DB) IncrementCounter(ctx context.Context, profileID int64, c domain.Category) (int, error) {
	column, err := counterColumn(c)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.conn.QueryRowContext(ctx,
		`UPDATE profiles SET `+column+` = `+column+` + 1 WHERE id = ? RETURNING `+column,
		profileID,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("profile %d: %w", profileID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to increment %s of profile %d: %w", column, profileID, err)
	}
	return n, nil
}

// counterColumn guards the column names that are spliced into SQL.
func counterColumn(c domain.Category) (string, error) {
	for _, known := range domain.Categories {
		if c == known {
			return string(c), nil
		}
	}
	return "", fmt.Errorf("unknown category %q", c)
}

// SaveStreak stores the derived streaks and the last check-in date.
func (db *DB) SaveStreak(ctx context.Context, profileID int64, s gamify.Streak, lastCheckin string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE profiles
		SET current_streak = ?, longest_streak = ?, last_checkin_date = ?
		WHERE id = ?
	`, s.Current, s.Longest, lastCheckin, profileID)
	if err != nil {
		return fmt.Errorf("failed to save streak of profile %d: %w", profileID, err)
	}
	return expectOne(res, fmt.Sprintf("profile %d", profileID))
}

// ActivityDates returns the distinct calendar dates on which the profile
// did something that keeps a streak alive.
func (db *DB) ActivityDates(ctx context.Context, profileID int64) ([]string, error) {
	var actions []string
	var args []any
	args = append(args, profileID)
	for _, a := range []domain.Action{
		domain.ActionView, domain.ActionFavorite, domain.ActionKnown,
		domain.ActionAdd, domain.ActionEdit, domain.ActionDelete,
	} {
		if a.CountsTowardStreak() {
			actions = append(actions, "?")
			args = append(args, string(a))
		}
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT local_date FROM review_events
		WHERE profile_id = ? AND action IN (`+strings.Join(actions, ", ")+`)
		ORDER BY local_date
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan activity date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// SeedAchievements writes the catalog. Existing entries are updated in
// place so rewards can change between releases without losing unlocks.
func (db *DB) SeedAchievements(ctx context.Context, catalog []domain.Achievement) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seeding achievements: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO achievements (code, category, threshold, reward_xp, title)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			category = excluded.category,
			threshold = excluded.threshold,
			reward_xp = excluded.reward_xp,
			title = excluded.title
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare achievement insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range catalog {
		if _, err := stmt.ExecContext(ctx, a.Code, string(a.Category), a.Threshold, a.RewardXP, a.Title); err != nil {
			return fmt.Errorf("failed to seed achievement %s: %w", a.Code, err)
		}
	}
	return tx.Commit()
}

// LockedAchievements returns the achievements of a category with a
// threshold at most value that the profile has not unlocked yet.
func (db *DB) LockedAchievements(ctx context.Context, profileID int64, c domain.Category, value int) ([]domain.Achievement, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.code, a.category, a.threshold, a.reward_xp, a.title
		FROM achievements a
		LEFT JOIN achievement_unlocks u ON u.code = a.code AND u.profile_id = ?
		WHERE a.category = ? AND a.threshold <= ? AND u.code IS NULL
		ORDER BY a.threshold
	`, profileID, string(c), value)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked achievements: %w", err)
	}
	return scanAchievements(rows)
}

// Achievements returns the whole catalog ordered by category and threshold.
func (db *DB) Achievements(ctx context.Context) ([]domain.Achievement, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT code, category, threshold, reward_xp, title
		FROM achievements ORDER BY category, threshold
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query achievements: %w", err)
	}
	return scanAchievements(rows)
}

func scanAchievements(rows *sql.Rows) ([]domain.Achievement, error) {
	defer rows.Close()
	var out []domain.Achievement
	for rows.Next() {
		var (
			a        domain.Achievement
			category string
		)
		if err := rows.Scan(&a.Code, &category, &a.Threshold, &a.RewardXP, &a.Title); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		a.Category = domain.Category(category)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UnlockAchievements records the unlocks and grants their rewards in one
// transaction. Only achievements that were not unlocked before are
// returned and rewarded.
func (db *DB) UnlockAchievements(ctx context.Context, profileID int64, achievements []domain.Achievement, at time.Time) ([]domain.Achievement, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin unlocking achievements: %w", err)
	}
	defer tx.Rollback()

	var (
		unlocked []domain.Achievement
		reward   int
	)
	for _, a := range achievements {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO achievement_unlocks (profile_id, code, unlocked_at)
			VALUES (?, ?, ?)
		`, profileID, a.Code, formatTime(at))
		if err != nil {
			return nil, fmt.Errorf("failed to unlock achievement %s: %w", a.Code, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			unlocked = append(unlocked, a)
			reward += a.RewardXP
		}
	}
	if reward > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET xp = xp + ? WHERE id = ?`, reward, profileID); err != nil {
			return nil, fmt.Errorf("failed to grant achievement reward: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit achievement unlocks: %w", err)
	}
	return unlocked, nil
}

// AllAchievementsUnlocked reports whether the profile holds every catalog
// achievement. An empty catalog counts as complete.
func (db *DB) AllAchievementsUnlocked(ctx context.Context, profileID int64) (bool, error) {
	var locked int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM achievements a
		WHERE NOT EXISTS (
			SELECT 1 FROM achievement_unlocks u WHERE u.code = a.code AND u.profile_id = ?
		)
	`, profileID).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("failed to count locked achievements: %w", err)
	}
	return locked == 0, nil
}

// Unlocks lists the profile's unlocks, most recent first.
func (db *DB) Unlocks(ctx context.Context, profileID int64) ([]domain.AchievementUnlock, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT profile_id, code, unlocked_at FROM achievement_unlocks
		WHERE profile_id = ? ORDER BY unlocked_at DESC, code
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	defer rows.Close()

	var out []domain.AchievementUnlock
	for rows.Next() {
		var (
			u  domain.AchievementUnlock
			at string
		)
		if err := rows.Scan(&u.ProfileID, &u.Code, &at); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		u.UnlockedAt = parseTime(at)
		out = append(out, u)
	}
	return out, rows.Err()
}
