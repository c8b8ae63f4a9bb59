package web

import (
	"net/http"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/gamify"
)

type profileResponse struct {
	Name          string                  `json:"name"`
	XP            int                     `json:"xp"`
	Progress      gamify.LevelProgress    `json:"progress"`
	Counters      map[domain.Category]int `json:"counters"`
	CurrentStreak int                     `json:"current_streak"`
	LongestStreak int                     `json:"longest_streak"`
	Unlocked      []string                `json:"unlocked"`
}

func (s *Server) handleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, err := s.db.Profile(ctx, s.pc.ProfileID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		unlocks, err := s.db.Unlocks(ctx, s.pc.ProfileID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		codes := make([]string, 0, len(unlocks))
		for _, u := range unlocks {
			codes = append(codes, u.Code)
		}
		s.writeJSON(w, http.StatusOK, profileResponse{
			Name:          p.Name,
			XP:            p.XP,
			Progress:      s.gamify.Curve().Progress(p.XP, p.Level),
			Counters:      p.Counters,
			CurrentStreak: p.CurrentStreak,
			LongestStreak: p.LongestStreak,
			Unlocked:      codes,
		})
	}
}

type achievementView struct {
	Code      string          `json:"code"`
	Category  domain.Category `json:"category"`
	Threshold int             `json:"threshold"`
	RewardXP  int             `json:"reward_xp"`
	Title     string          `json:"title"`
	Unlocked  bool            `json:"unlocked"`
}

func (s *Server) handleGetAchievements() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		catalog, err := s.db.Achievements(ctx)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		unlocks, err := s.db.Unlocks(ctx, s.pc.ProfileID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		have := make(map[string]bool, len(unlocks))
		for _, u := range unlocks {
			have[u.Code] = true
		}
		out := make([]achievementView, 0, len(catalog))
		for _, a := range catalog {
			out = append(out, achievementView{
				Code:      a.Code,
				Category:  a.Category,
				Threshold: a.Threshold,
				RewardXP:  a.RewardXP,
				Title:     a.Title,
				Unlocked:  have[a.Code],
			})
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}
