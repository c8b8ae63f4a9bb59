// Package web exposes the review flow as a JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/gamify"
	"github.com/conorfennell/recall/internal/session"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/sync"
)

// Deps holds everything the server needs.
type Deps struct {
	DB       *storage.DB
	Sessions *session.Manager
	Gamify   *gamify.Engine
	Syncer   *sync.Syncer
	Profile  domain.ProfileContext
	Logger   *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	router   *http.ServeMux
	sessions *session.Manager
	gamify   *gamify.Engine
	syncer   *sync.Syncer
	pc       domain.ProfileContext
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates and configures a new server.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:       d.DB,
		router:   http.NewServeMux(),
		sessions: d.Sessions,
		gamify:   d.Gamify,
		syncer:   d.Syncer,
		pc:       d.Profile,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /deck", s.handleGetDeck())

	s.router.HandleFunc("GET /session", s.handleGetSession())
	s.router.HandleFunc("POST /session/start", s.handleStartSession())
	s.router.HandleFunc("POST /session/stop", s.handleStopSession())
	s.router.HandleFunc("POST /session/pause", s.handlePauseSession())
	s.router.HandleFunc("POST /session/resume", s.handleResumeSession())
	s.router.HandleFunc("POST /session/activity", s.handleActivity())

	s.router.HandleFunc("GET /review/next", s.handleGetNextReview())
	s.router.HandleFunc("POST /review/{id}", s.handlePostReview())

	s.router.HandleFunc("POST /cards", s.handleAddCard())
	s.router.HandleFunc("GET /cards/{id}", s.handleGetCard())
	s.router.HandleFunc("PUT /cards/{id}", s.handleEditCard())
	s.router.HandleFunc("DELETE /cards/{id}", s.handleDeleteCard())
	s.router.HandleFunc("POST /cards/{id}/favorite", s.handleFlag(domain.ActionFavorite))
	s.router.HandleFunc("POST /cards/{id}/known", s.handleFlag(domain.ActionKnown))

	s.router.HandleFunc("GET /profile", s.handleGetProfile())
	s.router.HandleFunc("GET /achievements", s.handleGetAchievements())

	s.router.HandleFunc("GET /sources", s.handleGetSources())
	s.router.HandleFunc("POST /sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /sync", s.handlePostSync())
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps an error to a response, logging anything unexpected.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrPaused):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// recordAction logs a card action in the activity history so it counts
// towards streaks, and attaches it to the open session if there is one.
func (s *Server) recordAction(ctx context.Context, action domain.Action, cardID int64) {
	now := s.now().UTC()
	ev := domain.ReviewEvent{
		CardID:     cardID,
		SessionID:  s.sessions.Snapshot().SessionID,
		ProfileID:  s.pc.ProfileID,
		Action:     action,
		OccurredAt: now,
		LocalDate:  gamify.DateOf(now, s.pc.Loc()),
		Finalized:  true,
	}
	if _, err := s.db.RecordEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to record action", "action", action, "card_id", cardID, "error", err)
		return
	}
	if action.CountsTowardStreak() {
		if _, err := s.gamify.CheckIn(ctx, s.pc, now); err != nil {
			s.logger.Warn("failed to check in", "error", err)
		}
	}
}

// award grants the XP of a card action. Failures are logged; the action
// itself has already happened.
func (s *Server) award(ctx context.Context, action domain.Action, cardID int64) gamify.Award {
	s.recordAction(ctx, action, cardID)
	award, err := s.gamify.AwardAction(ctx, s.pc, action)
	if err != nil {
		s.logger.Warn("failed to award action", "action", action, "error", err)
	}
	return award
}
