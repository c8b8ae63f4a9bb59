package gamify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	profile  domain.Profile
	catalog  []domain.Achievement
	unlocked map[string]time.Time
	flagged  map[domain.Category]int
	dates    []string
	failXP   bool
}

func newMemStore(catalog []domain.Achievement) *memStore {
	return &memStore{
		profile:  domain.Profile{ID: 1, Level: 1, Counters: map[domain.Category]int{}},
		catalog:  catalog,
		unlocked: map[string]time.Time{},
		flagged:  map[domain.Category]int{},
	}
}

func (m *memStore) Profile(context.Context, int64) (*domain.Profile, error) {
	p := m.profile
	p.Counters = map[domain.Category]int{}
	for k, v := range m.profile.Counters {
		p.Counters[k] = v
	}
	return &p, nil
}

func (m *memStore) AddXP(_ context.Context, _ int64, delta int) (int, error) {
	if m.failXP {
		return 0, errors.New("disk full")
	}
	m.profile.XP += delta
	return m.profile.XP, nil
}

func (m *memStore) SetLevel(_ context.Context, _ int64, level int) error {
	m.profile.Level = level
	return nil
}

func (m *memStore) IncrementCounter(_ context.Context, _ int64, c domain.Category) (int, error) {
	m.profile.Counters[c]++
	return m.profile.Counters[c], nil
}

func (m *memStore) CountFlagged(_ context.Context, c domain.Category) (int, error) {
	return m.flagged[c], nil
}

func (m *memStore) LockedAchievements(_ context.Context, _ int64, c domain.Category, value int) ([]domain.Achievement, error) {
	var out []domain.Achievement
	for _, a := range m.catalog {
		if _, ok := m.unlocked[a.Code]; !ok && a.Category == c && a.Threshold <= value {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) UnlockAchievements(_ context.Context, _ int64, achievements []domain.Achievement, at time.Time) ([]domain.Achievement, error) {
	var granted []domain.Achievement
	for _, a := range achievements {
		if _, ok := m.unlocked[a.Code]; ok {
			continue
		}
		m.unlocked[a.Code] = at
		m.profile.XP += a.RewardXP
		granted = append(granted, a)
	}
	return granted, nil
}

func (m *memStore) AllAchievementsUnlocked(context.Context, int64) (bool, error) {
	return len(m.unlocked) == len(m.catalog), nil
}

func (m *memStore) ActivityDates(context.Context, int64) ([]string, error) {
	return m.dates, nil
}

func (m *memStore) SaveStreak(_ context.Context, _ int64, s Streak, lastCheckin string) error {
	m.profile.CurrentStreak = s.Current
	m.profile.LongestStreak = s.Longest
	m.profile.LastCheckinDate = lastCheckin
	return nil
}

var pc = domain.ProfileContext{ProfileID: 1, Location: time.UTC}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, nil, DefaultRewards(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAwardView(t *testing.T) {
	store := newMemStore(nil)
	engine := newTestEngine(store)
	ctx := context.Background()

	t.Run("Below grace is ignored", func(t *testing.T) {
		award, err := engine.AwardView(ctx, pc, time.Second)
		if err != nil {
			t.Fatalf("award view: %v", err)
		}
		if award.Counted || store.profile.XP != 0 || store.profile.Counters[domain.CategoryReviews] != 0 {
			t.Errorf("Expected no XP and no counter change, got %+v and profile %+v", award, store.profile)
		}
	})

	t.Run("Counted view earns base and bonus", func(t *testing.T) {
		award, err := engine.AwardView(ctx, pc, 13*time.Second)
		if err != nil {
			t.Fatalf("award view: %v", err)
		}
		if award.XP != 12 || store.profile.XP != 12 {
			t.Errorf("Expected 12 XP, got award %d and profile %d", award.XP, store.profile.XP)
		}
		if store.profile.Counters[domain.CategoryReviews] != 1 {
			t.Errorf("Expected one review counted, got %d", store.profile.Counters[domain.CategoryReviews])
		}
	})
}

func TestAchievementsUnlockOnce(t *testing.T) {
	catalog := []domain.Achievement{
		{Code: "reviews_1", Category: domain.CategoryReviews, Threshold: 1, RewardXP: 100},
		{Code: "reviews_2", Category: domain.CategoryReviews, Threshold: 2, RewardXP: 200},
		{Code: "adds_1", Category: domain.CategoryAdds, Threshold: 1, RewardXP: 50},
	}
	store := newMemStore(catalog)
	engine := newTestEngine(store)
	ctx := context.Background()

	unlocked, bonus, err := engine.CheckAchievements(ctx, pc, domain.CategoryReviews, 5)
	if err != nil {
		t.Fatalf("check achievements: %v", err)
	}
	if len(unlocked) != 2 || bonus != 300 {
		t.Fatalf("Expected both review achievements worth 300 XP, got %d worth %d", len(unlocked), bonus)
	}

	unlocked, bonus, err = engine.CheckAchievements(ctx, pc, domain.CategoryReviews, 5)
	if err != nil {
		t.Fatalf("check achievements again: %v", err)
	}
	if len(unlocked) != 0 || bonus != 0 {
		t.Errorf("Expected nothing on the second check, got %d worth %d", len(unlocked), bonus)
	}
	if store.profile.XP != 300 {
		t.Errorf("Expected reward XP granted exactly once, got %d", store.profile.XP)
	}
	if store.profile.Level != 1 {
		t.Errorf("Expected level 1 at 300 XP, got %d", store.profile.Level)
	}
}

func TestFavoritesUseCurrentCount(t *testing.T) {
	catalog := []domain.Achievement{
		{Code: "favorites_3", Category: domain.CategoryFavorites, Threshold: 3, RewardXP: 40},
	}
	store := newMemStore(catalog)
	engine := newTestEngine(store)
	ctx := context.Background()

	// Lifetime favorites reach 3 but only one card is still favorited.
	store.profile.Counters[domain.CategoryFavorites] = 2
	store.flagged[domain.CategoryFavorites] = 1
	award, err := engine.AwardAction(ctx, pc, domain.ActionFavorite)
	if err != nil {
		t.Fatalf("award action: %v", err)
	}
	if len(award.Unlocked) != 0 {
		t.Fatalf("Expected no unlock from the lifetime counter, got %v", award.Unlocked)
	}

	store.flagged[domain.CategoryFavorites] = 3
	award, err = engine.AwardAction(ctx, pc, domain.ActionFavorite)
	if err != nil {
		t.Fatalf("award action: %v", err)
	}
	if len(award.Unlocked) != 1 || award.XP != DefaultRewards().FavoriteXP+40 {
		t.Errorf("Expected the favorites achievement with its reward, got %+v", award)
	}
}

func TestAddsUseLifetimeCounter(t *testing.T) {
	catalog := []domain.Achievement{
		{Code: "adds_2", Category: domain.CategoryAdds, Threshold: 2, RewardXP: 10},
	}
	store := newMemStore(catalog)
	engine := newTestEngine(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := engine.AwardAction(ctx, pc, domain.ActionAdd); err != nil {
			t.Fatalf("award add: %v", err)
		}
	}
	if _, ok := store.unlocked["adds_2"]; !ok {
		t.Error("Expected the adds achievement after two adds")
	}
	if want := 2*DefaultRewards().AddXP + 10; store.profile.XP != want {
		t.Errorf("Expected %d XP, got %d", want, store.profile.XP)
	}
}

func TestLevelGating(t *testing.T) {
	catalog := []domain.Achievement{
		{Code: "known_1", Category: domain.CategoryKnown, Threshold: 1, RewardXP: 1},
	}
	store := newMemStore(catalog)
	engine := newTestEngine(store)
	ctx := context.Background()

	level, err := engine.GrantXP(ctx, pc, engine.Curve().Total())
	if err != nil {
		t.Fatalf("grant xp: %v", err)
	}
	if level != GatedLevel {
		t.Fatalf("Expected level capped at %d, got %d", GatedLevel, level)
	}

	if _, _, err := engine.CheckAchievements(ctx, pc, domain.CategoryKnown, 1); err != nil {
		t.Fatalf("check achievements: %v", err)
	}
	if store.profile.Level != MaxLevel {
		t.Errorf("Expected level %d once every achievement is unlocked, got %d", MaxLevel, store.profile.Level)
	}
}

func TestGrantXPFailureKeepsLevel(t *testing.T) {
	store := newMemStore(nil)
	store.failXP = true
	engine := newTestEngine(store)

	award, err := engine.AwardView(context.Background(), pc, 10*time.Second)
	if err == nil {
		t.Fatal("Expected an error when XP cannot be stored")
	}
	if award.XP != 0 || store.profile.Level != 1 {
		t.Errorf("Expected no XP reported and level unchanged, got %+v", award)
	}
}

func TestCheckIn(t *testing.T) {
	store := newMemStore(nil)
	engine := newTestEngine(store)
	ctx := context.Background()
	now := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)

	store.dates = []string{"2026-03-01", "2026-03-02"}
	res, err := engine.CheckIn(ctx, pc, now)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.BonusXP != 0 || res.Current != 2 || res.Longest != 2 {
		t.Errorf("Expected no bonus before activity today and a 2 day streak, got %+v", res)
	}

	store.dates = append(store.dates, "2026-03-03")
	res, err = engine.CheckIn(ctx, pc, now)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.BonusXP != DefaultRewards().CheckinXP || res.Current != 3 {
		t.Errorf("Expected the daily bonus and a 3 day streak, got %+v", res)
	}
	if store.profile.LastCheckinDate != "2026-03-03" || store.profile.CurrentStreak != 3 {
		t.Errorf("Expected the check-in to be stored, got %+v", store.profile)
	}

	res, err = engine.CheckIn(ctx, pc, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.BonusXP != 0 {
		t.Errorf("Expected the bonus only once per day, got %d", res.BonusXP)
	}
	if store.profile.XP != DefaultRewards().CheckinXP {
		t.Errorf("Expected XP of a single bonus, got %d", store.profile.XP)
	}
}

func TestLevelProgress(t *testing.T) {
	store := newMemStore(nil)
	engine := newTestEngine(store)
	ctx := context.Background()

	if _, err := engine.GrantXP(ctx, pc, 750); err != nil {
		t.Fatalf("grant xp: %v", err)
	}
	p, err := engine.LevelProgress(ctx, pc)
	if err != nil {
		t.Fatalf("level progress: %v", err)
	}
	want := LevelProgress{Level: 2, XP: 750, XPIntoLevel: 250, XPToNext: 250, NextLevelRequirement: 500}
	if p != want {
		t.Errorf("Expected %+v, got %+v", want, p)
	}
}
