package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/types"
)

func testEntry(entityType, entityID, category, weight, summary string, daysAgo int) types.ActivityEntry {
	return types.ActivityEntry{
		EventID:           "evt-" + summary,
		EventType:         "test_event",
		OccurredAt:        time.Now().UTC().AddDate(0, 0, -daysAgo),
		IndexedEntityType: entityType,
		IndexedEntityID:   entityID,
		EntityRole:        "subject",
		SourceRefs:        []types.SourceRef{{EntityType: entityType, EntityID: entityID, Role: "subject"}},
		Summary:           summary,
		Category:          category,
		Weight:            weight,
		Polarity:          "neutral",
		Payload:           []byte(`{"k":"v"}`),
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	drv, err := dataservice.OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	sqlStore := NewSQLStore(drv)
	require.NoError(t, sqlStore.CreateTable(ctx))

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    sqlStore,
	}
}

func TestStore_QueryByEntity(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.WriteEntries(ctx, []types.ActivityEntry{
				testEntry("property", "p1", "intake", "major", "Property enrolled", 10),
				testEntry("property", "p1", "protest", "minor", "Evidence uploaded", 5),
				testEntry("property", "p1", "document", "major", "Generated form", 1),
				testEntry("property", "p2", "intake", "major", "Other property", 2),
				testEntry("property", "p1", "intake", "info", "Too old", 400),
			}))

			got, cursor, total, err := store.QueryByEntity(ctx, "property", "p1", DefaultQueryOptions())
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Empty(t, cursor)
			require.Len(t, got, 3)
			assert.Equal(t, "Generated form", got[0].Summary, "newest first")
			assert.Equal(t, []types.SourceRef{{EntityType: "property", EntityID: "p1", Role: "subject"}}, got[0].SourceRefs)
			assert.JSONEq(t, `{"k":"v"}`, string(got[0].Payload))

			opts := DefaultQueryOptions()
			opts.Categories = []string{"intake", "document"}
			got, _, total, err = store.QueryByEntity(ctx, "property", "p1", opts)
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			assert.Len(t, got, 2)

			opts = DefaultQueryOptions()
			opts.MinWeight = "major"
			got, _, _, err = store.QueryByEntity(ctx, "property", "p1", opts)
			require.NoError(t, err)
			require.Len(t, got, 2)
			for _, e := range got {
				assert.Equal(t, "major", e.Weight)
			}
		})
	}
}

func TestStore_Pagination(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var entries []types.ActivityEntry
			for i := 0; i < 5; i++ {
				entries = append(entries, testEntry("protest", "x", "protest", "minor", fmt.Sprintf("entry-%d", i), i+1))
			}
			require.NoError(t, store.WriteEntries(ctx, entries))

			opts := DefaultQueryOptions()
			opts.Limit = 2
			page1, cursor, total, err := store.QueryByEntity(ctx, "protest", "x", opts)
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, page1, 2)
			require.NotEmpty(t, cursor)
			assert.Equal(t, "entry-0", page1[0].Summary)

			opts.Cursor = cursor
			page2, _, _, err := store.QueryByEntity(ctx, "protest", "x", opts)
			require.NoError(t, err)
			require.Len(t, page2, 2)
			assert.Equal(t, "entry-2", page2[0].Summary)
		})
	}
}

func TestStore_Search(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.WriteEntries(ctx, []types.ActivityEntry{
				testEntry("property", "p1", "document", "minor", "Generated Form 50-162", 1),
				testEntry("owner", "o1", "intake", "minor", "Owner created via public intake", 1),
			}))

			got, total, err := store.Search(ctx, "form 50", DefaultSearchOptions())
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, got, 1)
			assert.Equal(t, "p1", got[0].IndexedEntityID)

			opts := DefaultSearchOptions()
			opts.EntityType = "property"
			got, _, err = store.Search(ctx, "owner", opts)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSQLStore_DuplicateEventIgnored(t *testing.T) {
	store := stores(t)["sql"]
	ctx := context.Background()
	e := testEntry("property", "p1", "intake", "major", "Property enrolled", 1)
	require.NoError(t, store.WriteEntries(ctx, []types.ActivityEntry{e}))
	require.NoError(t, store.WriteEntries(ctx, []types.ActivityEntry{e}))

	_, _, total, err := store.QueryByEntity(ctx, "property", "p1", DefaultQueryOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast("critical", "major"))
	assert.True(t, AtLeast("major", "major"))
	assert.False(t, AtLeast("minor", "major"))
	assert.False(t, AtLeast("bogus", "info"))
	assert.True(t, AtLeast("info", ""))
}
