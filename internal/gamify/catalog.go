package gamify

import (
	"fmt"

	"github.com/conorfennell/recall/internal/domain"
)

type tier struct {
	threshold int
	reward    int
	title     string
}

var defaultTiers = map[domain.Category][]tier{
	domain.CategoryReviews: {
		{10, 50, "First Steps"},
		{100, 200, "Centurion"},
		{500, 750, "Steady Hand"},
		{1000, 1500, "Thousand Faces"},
		{5000, 5000, "Unforgetting"},
	},
	domain.CategoryFavorites: {
		{1, 10, "Soft Spot"},
		{10, 50, "Curator"},
		{50, 200, "Collector"},
	},
	domain.CategoryKnown: {
		{10, 100, "Sure Thing"},
		{100, 500, "Well Versed"},
		{500, 2000, "Walking Library"},
	},
	domain.CategoryAdds: {
		{1, 10, "Author"},
		{25, 100, "Prolific"},
		{100, 400, "Encyclopedist"},
	},
	domain.CategoryEdits: {
		{1, 10, "Second Thoughts"},
		{25, 100, "Editor"},
		{100, 400, "Perfectionist"},
	},
	domain.CategoryDeletes: {
		{1, 5, "Spring Cleaning"},
		{10, 25, "Declutter"},
		{50, 100, "Minimalist"},
	},
}

// DefaultCatalog returns the built-in achievement catalog.
func DefaultCatalog() []domain.Achievement {
	var catalog []domain.Achievement
	for _, category := range domain.Categories {
		for _, t := range defaultTiers[category] {
			catalog = append(catalog, domain.Achievement{
				Code:      fmt.Sprintf("%s_%d", category, t.threshold),
				Category:  category,
				Threshold: t.threshold,
				RewardXP:  t.reward,
				Title:     t.title,
			})
		}
	}
	return catalog
}
