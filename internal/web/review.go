package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/session"
)

type cardView struct {
	ID           int64     `json:"id"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	Context      string    `json:"context,omitempty"`
	State        string    `json:"state"`
	Due          time.Time `json:"due"`
	IntervalDays int       `json:"interval_days"`
	Lapses       int       `json:"lapses"`
	Favorite     bool      `json:"favorite"`
	Known        bool      `json:"known"`
}

func newCardView(c *domain.Card) cardView {
	return cardView{
		ID:           c.ID,
		Question:     c.Question,
		Answer:       c.Answer,
		Context:      c.Context,
		State:        c.State.String(),
		Due:          c.Due,
		IntervalDays: c.IntervalDays,
		Lapses:       c.Lapses,
		Favorite:     c.Favorite,
		Known:        c.Known,
	}
}

// handleGetDeck reports how many cards are due.
func (s *Server) handleGetDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.db.CountDueCards(r.Context(), s.now().UTC())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"due_count":     n,
			"has_due_cards": n > 0,
		})
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.sessions.Snapshot())
	}
}

func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Start(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sess.ID,
			"started_at": sess.Start,
			"status":     s.sessions.Status(),
		})
	}
}

func (s *Server) handleStopSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, fin, err := s.sessions.Stop(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"session_id":       sess.ID,
			"duration_seconds": sess.DurationSeconds,
			"finalized":        fin,
			"status":           s.sessions.Status(),
		})
	}
}

func (s *Server) handlePauseSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed := s.sessions.Pause()
		s.writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "state": s.sessions.State().String()})
	}
}

func (s *Server) handleResumeSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed := s.sessions.Resume()
		s.writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "state": s.sessions.State().String()})
	}
}

// handleActivity is the input heartbeat that keeps idle detection armed.
func (s *Server) handleActivity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sessions.Touch()
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGetNextReview returns the next due card and marks it as shown.
// Pass navigated=true when the user explicitly moved to the card, so that
// showing the same card again is counted.
func (s *Server) handleGetNextReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		due, err := s.db.GetDueCards(ctx, s.now().UTC(), 1)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(due) == 0 {
			s.writeJSON(w, http.StatusOK, map[string]any{"card": nil})
			return
		}
		card := &due[0]

		navigated := r.URL.Query().Get("navigated") == "true"
		fin, err := s.sessions.ShowItem(ctx, card.ID, navigated)
		if err != nil && !errors.Is(err, session.ErrNotActive) {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"card":      newCardView(card),
			"finalized": fin,
			"status":    s.sessions.Status(),
		})
	}
}

type rateRequest struct {
	Rating int `json:"rating" validate:"min=1,max=4"`
}

type rateResponse struct {
	CardID       int64     `json:"card_id"`
	Rating       string    `json:"rating"`
	State        string    `json:"state"`
	Due          time.Time `json:"due"`
	IntervalDays int       `json:"interval_days"`
	Lapses       int       `json:"lapses"`
	IsLapse      bool      `json:"is_lapse"`
	Degraded     string    `json:"degraded,omitempty"`
}

// handlePostReview schedules a rated card and stores its new memory state.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req rateRequest
		if !s.decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		card, err := s.db.GetCard(ctx, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		rating := domain.Rating(req.Rating)
		res := s.sessions.Rate(ctx, id, fsrs.InputFrom(card.MemoryState), rating)
		res.Apply(&card.MemoryState)
		if err := s.db.UpdateCardMemory(ctx, id, card.MemoryState); err != nil {
			s.fail(w, r, err)
			return
		}

		resp := rateResponse{
			CardID:       id,
			Rating:       rating.String(),
			State:        res.State.String(),
			Due:          res.Due,
			IntervalDays: res.IntervalDays,
			Lapses:       res.Lapses,
			IsLapse:      res.IsLapse,
		}
		if res.Degraded != fsrs.DegradedNone {
			resp.Degraded = res.Degraded.String()
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// handleGetCard returns a single card.
func (s *Server) handleGetCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		card, err := s.db.GetCard(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newCardView(card))
	}
}
