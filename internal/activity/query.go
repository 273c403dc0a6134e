// Package activity provides the activity store interface and implementations
// for the per-entity activity stream shown on property and protest pages.
package activity

import (
	"slices"
	"time"
)

// QueryOptions controls filtering and pagination for entity activity queries.
type QueryOptions struct {
	Since      *time.Time // default: 12 months ago
	Until      *time.Time // default: now
	Categories []string   // filter to specific categories
	MinWeight  string     // minimum weight threshold (default: "info")
	Limit      int        // max results (default: 100, max: 500)
	Cursor     string     // cursor for pagination
}

// SearchOptions controls filtering for full-text activity search.
type SearchOptions struct {
	EntityType string     // filter to specific entity type
	Since      *time.Time // filter by time
	Categories []string   // filter to specific categories
	Limit      int        // max results (default: 20)
}

// DefaultQueryOptions returns QueryOptions covering the last protest season.
func DefaultQueryOptions() QueryOptions {
	since := time.Now().AddDate(-1, 0, 0)
	now := time.Now()
	return QueryOptions{
		Since:     &since,
		Until:     &now,
		MinWeight: "info",
		Limit:     100,
	}
}

// DefaultSearchOptions returns SearchOptions with sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit: 20,
	}
}

// weightOrder ranks weights from most to least severe.
var weightOrder = []string{"critical", "major", "minor", "info"}

// AtLeast reports whether weight is as severe as minimum. Unknown weights
// rank below "info".
func AtLeast(weight, minimum string) bool {
	w := slices.Index(weightOrder, weight)
	m := slices.Index(weightOrder, minimum)
	if m < 0 {
		return true
	}
	return w >= 0 && w <= m
}

// weightsAtLeast lists every weight passing AtLeast(w, minimum).
func weightsAtLeast(minimum string) []string {
	m := slices.Index(weightOrder, minimum)
	if m < 0 {
		return slices.Clone(weightOrder)
	}
	return slices.Clone(weightOrder[:m+1])
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 || limit > max {
		return def
	}
	return limit
}
