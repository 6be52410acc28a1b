package digest

import (
	"cmp"
	"slices"
)

// Rank returns a new slice ordered by importance, timeliness and interest
// level (highest first), then by timestamp (earliest first), then by ID.
// The input slice is not modified.
func Rank(items []Item) []Item {
	ranked := slices.Clone(items)
	slices.SortStableFunc(ranked, compareItems)
	return ranked
}

func compareItems(a, b Item) int {
	if c := cmp.Compare(b.Evaluation.Importance.Rating.Score(), a.Evaluation.Importance.Rating.Score()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Evaluation.Timeliness.Rating.Score(), a.Evaluation.Timeliness.Rating.Score()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Evaluation.InterestLevel.Rating.Score(), a.Evaluation.InterestLevel.Rating.Score()); c != 0 {
		return c
	}
	if c := a.Timestamp().Compare(b.Timestamp()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
