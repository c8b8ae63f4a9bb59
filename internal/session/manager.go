// Package session tracks review sessions: which item is on screen, how long
// it has been attentively looked at, and when the reviewer has gone idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/gamify"
	"github.com/conorfennell/recall/internal/timer"
)

var (
	// ErrNotActive is returned when an operation needs a running session.
	ErrNotActive = errors.New("no active review session")
	// ErrPaused is returned when an item is shown while a dialog is open.
	ErrPaused = errors.New("review session is paused")
)

// State is the lifecycle state of the manager.
type State int

const (
	Inactive State = iota
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store persists sessions and review events.
type Store interface {
	CreateSession(ctx context.Context, s domain.Session) error
	EndSession(ctx context.Context, s domain.Session) error
	RecordEvent(ctx context.Context, ev domain.ReviewEvent) (int64, error)
	FinalizeEvent(ctx context.Context, eventID int64, elapsedSeconds float64, timedOut bool) error
	SetEventRating(ctx context.Context, eventID int64, rating domain.Rating) error
}

// Gamifier receives finished views and daily check-ins.
type Gamifier interface {
	AwardView(ctx context.Context, pc domain.ProfileContext, elapsed time.Duration) (gamify.Award, error)
	CheckIn(ctx context.Context, pc domain.ProfileContext, now time.Time) (gamify.CheckIn, error)
}

// Scheduler computes the next memory state of a rated card.
type Scheduler interface {
	Review(in fsrs.CardInput, rating domain.Rating, now time.Time) fsrs.Result
}

// Config holds the idle behavior of a manager.
type Config struct {
	IdleTimeout       time.Duration
	IdleEndsSession   bool
	IdleNavigatesHome bool
}

// Finalized describes an item whose duration has been sealed.
type Finalized struct {
	EventID        int64         `json:"event_id"`
	CardID         int64         `json:"card_id"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	TimedOut       bool          `json:"timed_out"`
	// Recorded is false when the duration could not be written.
	Recorded bool         `json:"recorded"`
	Award    gamify.Award `json:"award"`
}

// TickResult reports what an idle check did.
type TickResult struct {
	TimedOut     bool
	NavigateHome bool
	Finalized    *Finalized
	Session      *domain.Session
}

// Snapshot is a read-only view of the manager. TimedOut and NavigateHome
// report the last idle timeout until new activity or the next Start.
type Snapshot struct {
	State              string        `json:"state"`
	SessionID          string        `json:"session_id,omitempty"`
	CardID             int64         `json:"card_id,omitempty"`
	ItemElapsed        time.Duration `json:"-"`
	ItemElapsedSeconds float64       `json:"item_elapsed_seconds"`
	LastActivity       time.Time     `json:"last_activity"`
	Status             string        `json:"status,omitempty"`
	TimedOut           bool          `json:"timed_out"`
	NavigateHome       bool          `json:"navigate_home"`
}

type openItem struct {
	eventID int64 // zero when the event row could not be written
	cardID  int64
	watch   timer.Stopwatch
}

// Manager orchestrates one profile's review sessions. All methods are safe
// to call from the HTTP handlers and the idle ticker concurrently.
type Manager struct {
	mu sync.Mutex

	cfg       Config
	pc        domain.ProfileContext
	clock     ActivityClock
	store     Store
	scheduler Scheduler
	gamifier  Gamifier
	logger    *slog.Logger

	state        State
	session      *domain.Session
	sessionWatch timer.Stopwatch
	item         *openItem
	lastActivity time.Time
	idleArmed    bool
	timedOut     bool
	navigateHome bool
	viewDay      string
	status       string
}

// NewManager creates an inactive manager. A nil clock uses SystemClock.
func NewManager(cfg Config, pc domain.ProfileContext, clock ActivityClock, store Store, scheduler Scheduler, gamifier Gamifier, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		pc:        pc,
		clock:     clock,
		store:     store,
		scheduler: scheduler,
		gamifier:  gamifier,
		logger:    logger,
	}
}

// Start opens a session. Starting while a session is open returns it.
func (m *Manager) Start(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = ""
	m.timedOut, m.navigateHome = false, false

	if m.session != nil {
		return *m.session, nil
	}

	now := m.clock.Now().UTC()
	s := domain.Session{ID: uuid.NewString(), ProfileID: m.pc.ProfileID, Start: now}
	if err := m.store.CreateSession(ctx, s); err != nil {
		m.degraded("failed to record session start", err)
	}

	m.session = &s
	m.sessionWatch.Start(now)
	m.item = nil
	m.state = Active
	m.lastActivity = now
	m.idleArmed = true
	m.viewDay = ""
	m.logger.Info("review session started", "session_id", s.ID)

	m.checkIn(ctx, now)
	return s, nil
}

// Stop finalizes the open item and ends the session.
func (m *Manager) Stop(ctx context.Context) (*domain.Session, *Finalized, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = ""

	if m.session == nil {
		return nil, nil, ErrNotActive
	}
	now := m.clock.Now().UTC()
	fin := m.finalize(ctx, now, false)
	s := m.end(ctx, now, false)
	return s, fin, nil
}

// Pause freezes item timing while a dialog is open. Pausing when not active
// does nothing and returns false.
func (m *Manager) Pause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active {
		return false
	}
	now := m.clock.Now().UTC()
	if m.item != nil {
		m.item.watch.Pause(now)
	}
	m.state = Paused
	m.lastActivity = now
	return true
}

// Resume continues item timing after a dialog closes, excluding the paused
// span from the item's duration. Resuming when not paused does nothing.
func (m *Manager) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Paused {
		return false
	}
	now := m.clock.Now().UTC()
	if m.item != nil {
		if gap, ok := m.item.watch.Resume(now); ok {
			m.logger.Debug("item timing resumed", "card_id", m.item.cardID, "paused_for", gap)
		}
	}
	m.state = Active
	m.touch(now)
	return true
}

// Touch records input activity and re-arms idle detection.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.touch(m.clock.Now().UTC())
	}
}

func (m *Manager) touch(now time.Time) {
	m.lastActivity = now
	m.idleArmed = true
	m.timedOut = false
}

// ShowItem records that cardID is now on screen, sealing the previous item.
// Redisplaying the current card without a real navigation is ignored so a
// single-card filter cannot inflate counters; it returns nil, nil.
func (m *Manager) ShowItem(ctx context.Context, cardID int64, navigated bool) (*Finalized, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = ""

	switch m.state {
	case Inactive:
		return nil, ErrNotActive
	case Paused:
		return nil, ErrPaused
	}

	now := m.clock.Now().UTC()
	m.touch(now)
	if m.item != nil && m.item.cardID == cardID && !navigated {
		return nil, nil
	}

	fin := m.finalize(ctx, now, false)

	ev := domain.ReviewEvent{
		CardID:     cardID,
		SessionID:  m.session.ID,
		ProfileID:  m.pc.ProfileID,
		Action:     domain.ActionView,
		OccurredAt: now,
		LocalDate:  gamify.DateOf(now, m.pc.Loc()),
	}
	id, err := m.store.RecordEvent(ctx, ev)
	if err != nil {
		m.degraded("failed to record item view", err, "card_id", cardID)
		id = 0
	}
	m.item = &openItem{eventID: id, cardID: cardID}
	m.item.watch.Start(now)

	if id != 0 && ev.LocalDate != m.viewDay {
		m.viewDay = ev.LocalDate
		m.checkIn(ctx, now)
	}
	return fin, nil
}

// Rate schedules cardID with rating and attaches the rating to its open
// view. Persisting the returned state is the caller's job.
func (m *Manager) Rate(ctx context.Context, cardID int64, in fsrs.CardInput, rating domain.Rating) fsrs.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = ""

	now := m.clock.Now().UTC()
	if m.session != nil {
		m.touch(now)
	}
	res := m.scheduler.Review(in, rating, now)
	if res.Degraded != fsrs.DegradedNone {
		m.logger.Warn("card scheduled by fallback policy", "card_id", cardID, "reason", res.Degraded)
	}

	if m.item != nil && m.item.cardID == cardID && m.item.eventID != 0 {
		if err := m.store.SetEventRating(ctx, m.item.eventID, domain.ClampRating(int(rating))); err != nil {
			m.degraded("failed to record rating", err, "card_id", cardID)
		}
	}
	return res
}

// Tick checks for idleness. It is driven by a periodic timer and fires at
// most once per idle period: after timing out, nothing happens again until
// new activity is recorded.
func (m *Manager) Tick(ctx context.Context) TickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active || !m.idleArmed || m.cfg.IdleTimeout <= 0 {
		return TickResult{}
	}
	now := m.clock.Now().UTC()
	if now.Sub(m.lastActivity) < m.cfg.IdleTimeout {
		return TickResult{}
	}

	m.idleArmed = false
	m.timedOut = true
	cutoff := m.lastActivity
	res := TickResult{TimedOut: true}
	res.Finalized = m.finalize(ctx, cutoff, true)
	m.logger.Info("reviewer idle", "idle_for", now.Sub(cutoff).Round(time.Second), "ends_session", m.cfg.IdleEndsSession)
	if m.cfg.IdleEndsSession {
		res.Session = m.end(ctx, cutoff, true)
		res.NavigateHome = m.cfg.IdleNavigatesHome
		m.navigateHome = res.NavigateHome
	}
	return res
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a message describing a degraded write during the last
// operation, or an empty string.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns the current session and item.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:        m.state.String(),
		LastActivity: m.lastActivity,
		Status:       m.status,
		TimedOut:     m.timedOut,
		NavigateHome: m.navigateHome,
	}
	if m.session != nil {
		snap.SessionID = m.session.ID
	}
	if m.item != nil {
		snap.CardID = m.item.cardID
		snap.ItemElapsed = m.item.watch.ElapsedAt(m.clock.Now().UTC())
		snap.ItemElapsedSeconds = snap.ItemElapsed.Seconds()
	}
	return snap
}

// finalize seals the open item at cutoff and hands its duration to the
// gamifier. XP is only granted when the duration was written.
func (m *Manager) finalize(ctx context.Context, cutoff time.Time, timedOut bool) *Finalized {
	item := m.item
	if item == nil {
		return nil
	}
	m.item = nil

	fin := &Finalized{
		EventID:  item.eventID,
		CardID:   item.cardID,
		Elapsed:  item.watch.ElapsedAt(cutoff),
		TimedOut: timedOut,
	}
	fin.ElapsedSeconds = fin.Elapsed.Seconds()
	if item.eventID == 0 {
		return fin
	}
	if err := m.store.FinalizeEvent(ctx, item.eventID, fin.Elapsed.Seconds(), timedOut); err != nil {
		m.degraded("failed to record item duration", err, "event_id", item.eventID)
		return fin
	}
	fin.Recorded = true

	award, err := m.gamifier.AwardView(ctx, m.pc, fin.Elapsed)
	if err != nil {
		m.degraded("failed to award view", err, "event_id", item.eventID)
	}
	fin.Award = award
	return fin
}

// end closes the session at the given end marker.
func (m *Manager) end(ctx context.Context, endAt time.Time, timedOut bool) *domain.Session {
	s := *m.session
	s.End = endAt
	s.DurationSeconds = m.sessionWatch.ElapsedAt(endAt).Seconds()
	s.TimedOut = timedOut
	if err := m.store.EndSession(ctx, s); err != nil {
		m.degraded("failed to record session end", err, "session_id", s.ID)
	}

	m.session = nil
	m.sessionWatch.Stop()
	m.item = nil
	m.state = Inactive
	m.idleArmed = false
	m.logger.Info("review session ended",
		"session_id", s.ID,
		"duration", time.Duration(s.DurationSeconds*float64(time.Second)).Round(time.Second),
		"timed_out", timedOut,
	)
	return &s
}

func (m *Manager) checkIn(ctx context.Context, now time.Time) {
	res, err := m.gamifier.CheckIn(ctx, m.pc, now)
	if err != nil {
		m.degraded("failed to check in", err)
		return
	}
	if res.BonusXP > 0 {
		m.logger.Info("daily check-in", "streak", res.Current, "bonus_xp", res.BonusXP)
	}
}

// degraded logs a persistence failure and keeps it as the status message.
// Review flow continues regardless.
func (m *Manager) degraded(msg string, err error, args ...any) {
	m.logger.Warn(msg, append(args, "error", err)...)
	m.status = msg
}
