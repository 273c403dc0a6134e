package activity

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
	"github.com/samber/lo"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// Store is the interface for reading and writing activity entries.
// ActivityEntry rows live in their own table next to the data service tables.
type Store interface {
	// WriteEntries writes one or more activity entries (one event → many entries).
	WriteEntries(ctx context.Context, entries []types.ActivityEntry) error

	// QueryByEntity returns activity entries for a specific entity, newest first.
	QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) (entries []types.ActivityEntry, nextCursor string, totalCount int, err error)

	// Search performs a case-insensitive substring search across summaries.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []types.ActivityEntry, totalCount int, err error)
}

const tableName = "activity_entries"

var columns = []string{
	"event_id", "event_type", "occurred_at", "indexed_entity_type", "indexed_entity_id",
	"entity_role", "source_refs", "summary", "category", "weight", "polarity", "payload",
}

// Table describes activity_entries for ent's schema migration. occurred_at
// holds Unix nanoseconds so range predicates compare exactly.
func Table() *schema.Table {
	cols := []*schema.Column{
		{Name: "event_id", Type: field.TypeString},
		{Name: "event_type", Type: field.TypeString},
		{Name: "occurred_at", Type: field.TypeInt64},
		{Name: "indexed_entity_type", Type: field.TypeString},
		{Name: "indexed_entity_id", Type: field.TypeString},
		{Name: "entity_role", Type: field.TypeString},
		{Name: "source_refs", Type: field.TypeString, Size: 1 << 16},
		{Name: "summary", Type: field.TypeString, Size: 1 << 12},
		{Name: "category", Type: field.TypeString},
		{Name: "weight", Type: field.TypeString},
		{Name: "polarity", Type: field.TypeString},
		{Name: "payload", Type: field.TypeString, Size: 1 << 16, Nullable: true},
	}
	return &schema.Table{
		Name:       tableName,
		Columns:    cols,
		PrimaryKey: []*schema.Column{cols[3], cols[4], cols[2], cols[0]},
		Indexes: []*schema.Index{
			{Name: "idx_activity_entity_time", Columns: []*schema.Column{cols[3], cols[4], cols[2]}},
			{Name: "idx_activity_entity_category_time", Columns: []*schema.Column{cols[3], cols[4], cols[8], cols[2]}},
		},
	}
}

// SQLStore implements Store on the ent SQL driver shared with the data service.
type SQLStore struct {
	drv *entsql.Driver
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(drv *entsql.Driver) *SQLStore {
	return &SQLStore{drv: drv}
}

// CreateTable creates activity_entries if it does not exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	return m.Create(ctx, Table())
}

func (s *SQLStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.drv.Dialect())
}

// WriteEntries inserts activity entries, ignoring duplicates of an already
// indexed event.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []types.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ins := s.builder().Insert(tableName).Columns(columns...)
	for _, e := range entries {
		refsJSON, _ := json.Marshal(e.SourceRefs)
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		ins.Values(
			e.EventID, e.EventType, e.OccurredAt.UnixNano(), e.IndexedEntityType, e.IndexedEntityID,
			e.EntityRole, string(refsJSON), e.Summary, e.Category, e.Weight, e.Polarity, payload,
		)
	}
	ins.OnConflict(entsql.DoNothing())

	query, args := ins.Query()
	var res stdsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("writing activity entries: %w", err)
	}
	return nil
}

// QueryByEntity returns activity entries for a specific entity with filtering and pagination.
func (s *SQLStore) QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	limit := clampLimit(opts.Limit, 100, 500)

	filter := func() *entsql.Predicate {
		preds := []*entsql.Predicate{
			entsql.EQ("indexed_entity_type", entityType),
			entsql.EQ("indexed_entity_id", entityID),
		}
		if opts.Since != nil {
			preds = append(preds, entsql.GTE("occurred_at", opts.Since.UnixNano()))
		}
		if opts.Until != nil {
			preds = append(preds, entsql.LTE("occurred_at", opts.Until.UnixNano()))
		}
		if len(opts.Categories) > 0 {
			preds = append(preds, entsql.In("category", lo.ToAnySlice(opts.Categories)...))
		}
		if opts.MinWeight != "" && opts.MinWeight != "info" {
			preds = append(preds, entsql.In("weight", lo.ToAnySlice(weightsAtLeast(opts.MinWeight))...))
		}
		return entsql.And(preds...)
	}

	page := filter()
	if opts.Cursor != "" {
		if cursorTime, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			page = entsql.And(page, entsql.LT("occurred_at", cursorTime.UnixNano()))
		}
	}

	b := s.builder()
	sel := b.Select(columns...).
		From(b.Table(tableName)).
		Where(page).
		OrderBy(entsql.Desc("occurred_at")).
		Limit(limit + 1) // fetch one extra for cursor
	entries, err := s.scan(ctx, sel)
	if err != nil {
		return nil, "", 0, err
	}

	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit]
		nextCursor = entries[len(entries)-1].OccurredAt.Format(time.RFC3339Nano)
	}

	total, err := s.count(ctx, filter())
	if err != nil {
		return nil, "", 0, err
	}
	return entries, nextCursor, total, nil
}

// Search performs a case-insensitive substring search across summaries.
func (s *SQLStore) Search(ctx context.Context, query string, opts SearchOptions) ([]types.ActivityEntry, int, error) {
	limit := clampLimit(opts.Limit, 20, 500)

	filter := func() *entsql.Predicate {
		preds := []*entsql.Predicate{entsql.ContainsFold("summary", query)}
		if opts.EntityType != "" {
			preds = append(preds, entsql.EQ("indexed_entity_type", opts.EntityType))
		}
		if opts.Since != nil {
			preds = append(preds, entsql.GTE("occurred_at", opts.Since.UnixNano()))
		}
		if len(opts.Categories) > 0 {
			preds = append(preds, entsql.In("category", lo.ToAnySlice(opts.Categories)...))
		}
		return entsql.And(preds...)
	}

	b := s.builder()
	sel := b.Select(columns...).
		From(b.Table(tableName)).
		Where(filter()).
		OrderBy(entsql.Desc("occurred_at")).
		Limit(limit)
	entries, err := s.scan(ctx, sel)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.count(ctx, filter())
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *SQLStore) scan(ctx context.Context, sel *entsql.Selector) ([]types.ActivityEntry, error) {
	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("querying activity entries: %w", err)
	}
	defer rows.Close()

	var entries []types.ActivityEntry
	for rows.Next() {
		var (
			e        types.ActivityEntry
			occurred int64
			refsJSON string
			payload  stdsql.NullString
		)
		err := rows.Scan(
			&e.EventID, &e.EventType, &occurred, &e.IndexedEntityType, &e.IndexedEntityID,
			&e.EntityRole, &refsJSON, &e.Summary, &e.Category, &e.Weight, &e.Polarity, &payload,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.OccurredAt = time.Unix(0, occurred).UTC()
		if refsJSON != "" {
			_ = json.Unmarshal([]byte(refsJSON), &e.SourceRefs)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) count(ctx context.Context, where *entsql.Predicate) (int, error) {
	b := s.builder()
	query, args := b.Select(entsql.Count("*")).From(b.Table(tableName)).Where(where).Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return 0, fmt.Errorf("counting activity entries: %w", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("counting activity entries: %w", err)
		}
	}
	return n, rows.Err()
}
