package web

import (
	"net/http"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/knol"
)

type factRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
	Answer   string `json:"answer" validate:"max=20000"`
	Context  string `json:"context" validate:"max=4000"`
}

func (req factRequest) fact() domain.Fact {
	f := domain.Fact{Question: req.Question, Answer: req.Answer, Context: req.Context}
	f.Hash = knol.Hash(f)
	return f
}

// handleAddCard creates a hand-written card that belongs to no source.
func (s *Server) handleAddCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req factRequest
		if !s.decode(w, r, &req) {
			return
		}
		ctx := r.Context()
		fact := req.fact()

		existing, err := s.db.FindCardByHash(ctx, fact.Hash)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if existing != nil {
			s.writeJSON(w, http.StatusConflict, map[string]any{"error": "card already exists", "id": existing.ID})
			return
		}

		id, err := s.db.InsertCard(ctx, fact, 0, s.now())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		award := s.award(ctx, domain.ActionAdd, id)
		s.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "award": award})
	}
}

// handleEditCard replaces the content of a card, keeping its schedule.
func (s *Server) handleEditCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req factRequest
		if !s.decode(w, r, &req) {
			return
		}
		ctx := r.Context()
		fact := req.fact()

		if existing, err := s.db.FindCardByHash(ctx, fact.Hash); err != nil {
			s.fail(w, r, err)
			return
		} else if existing != nil && existing.ID != id {
			s.writeJSON(w, http.StatusConflict, map[string]any{"error": "another card has this content", "id": existing.ID})
			return
		}

		if err := s.db.UpdateCardFact(ctx, id, fact); err != nil {
			s.fail(w, r, err)
			return
		}
		award := s.award(ctx, domain.ActionEdit, id)
		s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "award": award})
	}
}

func (s *Server) handleDeleteCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		if err := s.db.DeleteCard(ctx, id); err != nil {
			s.fail(w, r, err)
			return
		}
		award := s.award(ctx, domain.ActionDelete, id)
		s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "award": award})
	}
}

type flagRequest struct {
	On *bool `json:"on" validate:"required"`
}

// handleFlag sets or clears the favorite or known flag. XP is only
// granted when a flag is newly set; achievements for these categories
// follow the current number of flagged cards.
func (s *Server) handleFlag(action domain.Action) http.HandlerFunc {
	category := domain.CategoryFavorites
	if action == domain.ActionKnown {
		category = domain.CategoryKnown
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req flagRequest
		if !s.decode(w, r, &req) {
			return
		}
		ctx := r.Context()
		changed, err := s.db.SetFlag(ctx, id, category, *req.On)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp := map[string]any{"id": id, "on": *req.On, "changed": changed}
		if changed && *req.On {
			resp["award"] = s.award(ctx, action, id)
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}
