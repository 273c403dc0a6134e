package activity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// MemoryStore implements Store using in-memory slices.
// Intended for the memory data service and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []types.ActivityEntry
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []types.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryStore) QueryByEntity(_ context.Context, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor *time.Time
	if opts.Cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			cursor = &t
		}
	}

	var matched []types.ActivityEntry
	for _, e := range s.entries {
		if e.IndexedEntityType != entityType || e.IndexedEntityID != entityID {
			continue
		}
		if opts.Since != nil && e.OccurredAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.OccurredAt.After(*opts.Until) {
			continue
		}
		if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, e.Category) {
			continue
		}
		if opts.MinWeight != "" && !AtLeast(e.Weight, opts.MinWeight) {
			continue
		}
		matched = append(matched, e)
	}
	sortNewest(matched)

	// The total ignores the cursor so every page reports the same count.
	totalCount := len(matched)
	if cursor != nil {
		i := sort.Search(len(matched), func(i int) bool { return matched[i].OccurredAt.Before(*cursor) })
		matched = matched[i:]
	}

	limit := clampLimit(opts.Limit, 100, 500)
	var nextCursor string
	if len(matched) > limit {
		matched = matched[:limit]
		nextCursor = matched[len(matched)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return slices.Clone(matched), nextCursor, totalCount, nil
}

func (s *MemoryStore) Search(_ context.Context, query string, opts SearchOptions) ([]types.ActivityEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var matched []types.ActivityEntry
	for _, e := range s.entries {
		if !strings.Contains(strings.ToLower(e.Summary), q) {
			continue
		}
		if opts.EntityType != "" && e.IndexedEntityType != opts.EntityType {
			continue
		}
		if opts.Since != nil && e.OccurredAt.Before(*opts.Since) {
			continue
		}
		if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, e.Category) {
			continue
		}
		matched = append(matched, e)
	}
	sortNewest(matched)

	totalCount := len(matched)
	limit := clampLimit(opts.Limit, 20, 500)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return slices.Clone(matched), totalCount, nil
}

func sortNewest(entries []types.ActivityEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.After(entries[j].OccurredAt)
	})
}
