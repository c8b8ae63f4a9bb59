package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/gamify"
)

var t0 = time.Date(2026, time.May, 4, 8, 0, 0, 0, time.UTC)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeStore struct {
	sessions   map[string]domain.Session
	events     []domain.ReviewEvent
	finalized  map[int64]float64
	timedOut   map[int64]bool
	ratings    map[int64]domain.Rating
	failFinal  bool
	failRecord bool
	finalCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  map[string]domain.Session{},
		finalized: map[int64]float64{},
		timedOut:  map[int64]bool{},
		ratings:   map[int64]domain.Rating{},
	}
}

func (f *fakeStore) CreateSession(_ context.Context, s domain.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) EndSession(_ context.Context, s domain.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) RecordEvent(_ context.Context, ev domain.ReviewEvent) (int64, error) {
	if f.failRecord {
		return 0, errors.New("database is locked")
	}
	ev.ID = int64(len(f.events) + 1)
	f.events = append(f.events, ev)
	return ev.ID, nil
}

func (f *fakeStore) FinalizeEvent(_ context.Context, id int64, elapsed float64, timedOut bool) error {
	f.finalCalls++
	if f.failFinal {
		return errors.New("database is locked")
	}
	if _, ok := f.finalized[id]; ok {
		return errors.New("event already finalized")
	}
	f.finalized[id] = elapsed
	f.timedOut[id] = timedOut
	return nil
}

func (f *fakeStore) SetEventRating(_ context.Context, id int64, r domain.Rating) error {
	f.ratings[id] = r
	return nil
}

type fakeGamifier struct {
	views    []time.Duration
	checkIns int
}

func (g *fakeGamifier) AwardView(_ context.Context, _ domain.ProfileContext, elapsed time.Duration) (gamify.Award, error) {
	g.views = append(g.views, elapsed)
	return gamify.Award{XP: 10, Counted: true}, nil
}

func (g *fakeGamifier) CheckIn(context.Context, domain.ProfileContext, time.Time) (gamify.CheckIn, error) {
	g.checkIns++
	return gamify.CheckIn{}, nil
}

type fixture struct {
	clock    *manualClock
	store    *fakeStore
	gamifier *fakeGamifier
	manager  *Manager
}

func newFixture(cfg Config) *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		clock:    &manualClock{now: t0},
		store:    newFakeStore(),
		gamifier: &fakeGamifier{},
	}
	pc := domain.ProfileContext{ProfileID: 1, Location: time.UTC}
	engine := fsrs.NewEngine(fsrs.DefaultWeights(), logger)
	f.manager = NewManager(cfg, pc, f.clock, f.store, engine, f.gamifier, logger)
	return f
}

func defaultConfig() Config {
	return Config{IdleTimeout: time.Minute, IdleEndsSession: true, IdleNavigatesHome: true}
}

func TestPauseResumeExcludesPausedTime(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.manager.ShowItem(ctx, 1, true); err != nil {
		t.Fatalf("show item: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	if !f.manager.Pause() {
		t.Fatal("Expected pause to succeed")
	}
	f.clock.Advance(30 * time.Second)
	if !f.manager.Resume() {
		t.Fatal("Expected resume to succeed")
	}
	f.clock.Advance(20 * time.Second)

	fin, err := f.manager.ShowItem(ctx, 2, true)
	if err != nil {
		t.Fatalf("show item: %v", err)
	}
	if fin == nil || fin.Elapsed != 30*time.Second {
		t.Fatalf("Expected 30s of attentive time, got %+v", fin)
	}
	if !fin.Recorded || f.store.finalized[fin.EventID] != 30 {
		t.Errorf("Expected 30s written to the event, got %v", f.store.finalized)
	}
	if len(f.gamifier.views) != 1 || f.gamifier.views[0] != 30*time.Second {
		t.Errorf("Expected the gamifier to receive 30s, got %v", f.gamifier.views)
	}
}

func TestPauseResumeAreReentrant(t *testing.T) {
	f := newFixture(defaultConfig())

	if f.manager.Pause() {
		t.Error("Expected pause without a session to be a no-op")
	}
	if _, err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.manager.Resume() {
		t.Error("Expected resume while active to be a no-op")
	}
	if !f.manager.Pause() || f.manager.Pause() {
		t.Error("Expected only the first pause to take effect")
	}
	if f.manager.State() != Paused {
		t.Errorf("Expected paused state, got %s", f.manager.State())
	}
	if _, err := f.manager.ShowItem(context.Background(), 1, true); !errors.Is(err, ErrPaused) {
		t.Errorf("Expected ErrPaused while a dialog is open, got %v", err)
	}
}

func TestIdleTimeoutEndsSessionOnce(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.manager.ShowItem(ctx, 7, true); err != nil {
		t.Fatalf("show item: %v", err)
	}
	f.clock.Advance(5 * time.Second)
	f.manager.Touch()

	f.clock.Advance(59 * time.Second)
	if res := f.manager.Tick(ctx); res.TimedOut {
		t.Fatal("Expected no timeout before the idle window elapses")
	}

	f.clock.Advance(2 * time.Second)
	res := f.manager.Tick(ctx)
	if !res.TimedOut || !res.NavigateHome {
		t.Fatalf("Expected a timeout that navigates home, got %+v", res)
	}
	if res.Finalized == nil || res.Finalized.Elapsed != 5*time.Second {
		t.Errorf("Expected the item capped at the last activity (5s), got %+v", res.Finalized)
	}
	if !f.store.timedOut[res.Finalized.EventID] {
		t.Error("Expected the event to be marked as timed out")
	}
	if res.Session == nil || !res.Session.TimedOut || res.Session.DurationSeconds != 5 {
		t.Errorf("Expected a timed out session of 5s, got %+v", res.Session)
	}
	if f.manager.State() != Inactive {
		t.Errorf("Expected inactive state, got %s", f.manager.State())
	}

	f.clock.Advance(10 * time.Minute)
	if again := f.manager.Tick(ctx); again.TimedOut {
		t.Error("Expected the timeout to fire only once")
	}
	if f.store.finalCalls != 1 {
		t.Errorf("Expected one finalization, got %d", f.store.finalCalls)
	}
}

func TestIdleTimeoutWithoutEndingSession(t *testing.T) {
	cfg := defaultConfig()
	cfg.IdleEndsSession = false
	f := newFixture(cfg)
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.manager.ShowItem(ctx, 1, true); err != nil {
		t.Fatalf("show item: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	if res := f.manager.Tick(ctx); !res.TimedOut || res.Session != nil || res.NavigateHome {
		t.Fatalf("Expected an idle timeout that keeps the session, got %+v", res)
	}
	f.clock.Advance(2 * time.Minute)
	if res := f.manager.Tick(ctx); res.TimedOut {
		t.Fatal("Expected no second timeout without new activity")
	}

	f.manager.Touch()
	f.clock.Advance(2 * time.Minute)
	if res := f.manager.Tick(ctx); !res.TimedOut {
		t.Error("Expected new activity to re-arm idle detection")
	}
	if f.manager.State() != Active {
		t.Errorf("Expected the session to stay active, got %s", f.manager.State())
	}
}

func TestPausedSessionDoesNotIdle(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.manager.Pause()
	f.clock.Advance(time.Hour)
	if res := f.manager.Tick(ctx); res.TimedOut {
		t.Error("Expected no idle timeout while a dialog is open")
	}
}

func TestDuplicateViewGuard(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.manager.ShowItem(ctx, 3, true)
	f.clock.Advance(10 * time.Second)
	fin, err := f.manager.ShowItem(ctx, 3, false)
	if err != nil || fin != nil {
		t.Fatalf("Expected redisplay to be ignored, got %+v, %v", fin, err)
	}
	if len(f.store.events) != 1 {
		t.Errorf("Expected a single view event, got %d", len(f.store.events))
	}

	fin, err = f.manager.ShowItem(ctx, 3, true)
	if err != nil || fin == nil {
		t.Fatalf("Expected a real navigation to finalize the item, got %+v, %v", fin, err)
	}
	if len(f.store.events) != 2 {
		t.Errorf("Expected a second view event, got %d", len(f.store.events))
	}
}

func TestStopFinalizesOnce(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	started, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if again, _ := f.manager.Start(ctx); again.ID != started.ID {
		t.Error("Expected starting twice to return the open session")
	}

	f.manager.ShowItem(ctx, 1, true)
	f.clock.Advance(12 * time.Second)
	f.manager.Pause()
	f.clock.Advance(time.Minute)

	s, fin, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if fin == nil || fin.Elapsed != 12*time.Second {
		t.Errorf("Expected the item capped at the pause start, got %+v", fin)
	}
	if s.TimedOut || s.DurationSeconds != 72 {
		t.Errorf("Expected a 72s session that did not time out, got %+v", s)
	}

	if _, _, err := f.manager.Stop(ctx); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive on a second stop, got %v", err)
	}
	if f.store.finalCalls != 1 {
		t.Errorf("Expected exactly one finalization, got %d", f.store.finalCalls)
	}
}

func TestFinalizeWriteFailureDoesNotBlock(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	f.store.failFinal = true

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.manager.ShowItem(ctx, 1, true)
	f.clock.Advance(20 * time.Second)

	fin, err := f.manager.ShowItem(ctx, 2, true)
	if err != nil {
		t.Fatalf("Expected the next item to load, got %v", err)
	}
	if fin.Recorded {
		t.Error("Expected the failed write not to be reported as recorded")
	}
	if f.manager.Status() == "" {
		t.Error("Expected a status message describing the failed write")
	}
	if len(f.gamifier.views) != 0 {
		t.Errorf("Expected no XP for an unrecorded view, got %v", f.gamifier.views)
	}
	if snap := f.manager.Snapshot(); snap.CardID != 2 {
		t.Errorf("Expected card 2 on screen, got %d", snap.CardID)
	}
}

func TestClockSkewClampsToZero(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.manager.ShowItem(ctx, 1, true)
	f.clock.Advance(-30 * time.Second)

	fin, _ := f.manager.ShowItem(ctx, 2, true)
	if fin.Elapsed != 0 {
		t.Errorf("Expected negative elapsed time to clamp to zero, got %v", fin.Elapsed)
	}
}

func TestRateRecordsRatingAndSchedules(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.manager.ShowItem(ctx, 9, true)

	res := f.manager.Rate(ctx, 9, fsrs.CardInput{}, domain.Again)
	if res.State != domain.Relearning || !res.IsLapse {
		t.Errorf("Expected a relearning lapse, got %+v", res)
	}
	if res.Due.Before(f.clock.Now().Add(24 * time.Hour)) {
		t.Errorf("Expected due at least a day out, got %v", res.Due)
	}
	if f.store.ratings[1] != domain.Again {
		t.Errorf("Expected the rating on the open event, got %v", f.store.ratings)
	}
}

func TestRateStampsSessionClock(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	f.clock.Advance(90 * 24 * time.Hour)

	res := f.manager.Rate(ctx, 3, fsrs.CardInput{}, domain.Good)
	var m domain.MemoryState
	res.Apply(&m)
	if !m.LastReview.Equal(f.clock.Now()) {
		t.Errorf("Expected last review %v, got %v", f.clock.Now(), m.LastReview)
	}
	if m.Due.Before(m.LastReview.Add(24 * time.Hour)) {
		t.Errorf("Expected due at least a day after the review, got %v", m.Due)
	}
}

func TestSnapshotReportsIdleTimeout(t *testing.T) {
	tests := []struct {
		name         string
		endsSession  bool
		navigateHome bool
	}{
		{"ends session and navigates home", true, true},
		{"ends session only", true, false},
		{"keeps session", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.IdleEndsSession = tt.endsSession
			cfg.IdleNavigatesHome = tt.navigateHome
			f := newFixture(cfg)
			ctx := context.Background()

			if _, err := f.manager.Start(ctx); err != nil {
				t.Fatalf("start: %v", err)
			}
			if snap := f.manager.Snapshot(); snap.TimedOut || snap.NavigateHome {
				t.Fatalf("Expected no timeout before idling, got %+v", snap)
			}

			f.clock.Advance(2 * time.Minute)
			f.manager.Tick(ctx)
			wantHome := tt.endsSession && tt.navigateHome
			snap := f.manager.Snapshot()
			if !snap.TimedOut {
				t.Errorf("Expected snapshot to report the timeout, got %+v", snap)
			}
			if snap.NavigateHome != wantHome {
				t.Errorf("Expected navigate home %v, got %v", wantHome, snap.NavigateHome)
			}

			if _, err := f.manager.Start(ctx); err != nil {
				t.Fatalf("restart: %v", err)
			}
			if snap := f.manager.Snapshot(); snap.TimedOut || snap.NavigateHome {
				t.Errorf("Expected Start to clear the timeout, got %+v", snap)
			}
		})
	}
}

func TestElapsedSerializesAsSeconds(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.manager.ShowItem(ctx, 4, true)
	f.clock.Advance(1500 * time.Millisecond)

	snap := f.manager.Snapshot()
	if snap.ItemElapsedSeconds != 1.5 {
		t.Errorf("Expected 1.5 item seconds, got %v", snap.ItemElapsedSeconds)
	}
	_, fin, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	raw, err := json.Marshal(fin)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["elapsed_seconds"] != 1.5 {
		t.Errorf("Expected elapsed_seconds 1.5, got %v", got["elapsed_seconds"])
	}
	if _, ok := got["elapsed"]; ok {
		t.Errorf("Expected no nanosecond elapsed field, got %s", raw)
	}
}

func TestShowItemRequiresSession(t *testing.T) {
	f := newFixture(defaultConfig())
	if _, err := f.manager.ShowItem(context.Background(), 1, true); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
}

func TestCheckInOnStartAndFirstView(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()

	f.manager.Start(ctx)
	f.manager.ShowItem(ctx, 1, true)
	f.manager.ShowItem(ctx, 2, true)
	if f.gamifier.checkIns != 2 {
		t.Errorf("Expected check-ins on start and on the first view of the day, got %d", f.gamifier.checkIns)
	}
}
