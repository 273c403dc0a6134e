package dataservice

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// Options configures New.
type Options struct {
	// Latency is the artificial delay applied by the memory backend.
	Latency time.Duration
	// Driver is the ent SQL driver used by the sql backend.
	Driver *entsql.Driver
}

// SQLService implements DataService on a SQL database through ent's
// dialect-aware query builders.
type SQLService struct {
	drv          *entsql.Driver
	owners       *sqlTable[types.Owner]
	properties   *sqlTable[types.Property]
	applications *sqlTable[types.Application]
	protests     *sqlTable[types.Protest]
	contacts     *sqlTable[types.Contact]
	evidence     *sqlTable[types.EvidenceUpload]
	documents    *sqlTable[types.CustomerDocument]
	profiles     *sqlTable[types.Profile]
	bills        *sqlTable[types.Bill]
	invoices     *sqlTable[types.Invoice]
	referrals    *sqlTable[types.Referral]
}

// NewSQLService creates a SQLService over drv. Call Migrate before first use
// on a fresh database.
func NewSQLService(drv *entsql.Driver) *SQLService {
	return &SQLService{
		drv:          drv,
		owners:       &sqlTable[types.Owner]{drv: drv, desc: ownerDesc},
		properties:   &sqlTable[types.Property]{drv: drv, desc: propertyDesc},
		applications: &sqlTable[types.Application]{drv: drv, desc: applicationDesc},
		protests:     &sqlTable[types.Protest]{drv: drv, desc: protestDesc},
		contacts:     &sqlTable[types.Contact]{drv: drv, desc: contactDesc},
		evidence:     &sqlTable[types.EvidenceUpload]{drv: drv, desc: evidenceDesc},
		documents:    &sqlTable[types.CustomerDocument]{drv: drv, desc: documentDesc},
		profiles:     &sqlTable[types.Profile]{drv: drv, desc: profileDesc},
		bills:        &sqlTable[types.Bill]{drv: drv, desc: billDesc},
		invoices:     &sqlTable[types.Invoice]{drv: drv, desc: invoiceDesc},
		referrals:    &sqlTable[types.Referral]{drv: drv, desc: referralDesc},
	}
}

// Migrate creates or updates every table using ent's schema migration.
func (s *SQLService) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("dataservice: creating migrator: %w", err)
	}
	if err := m.Create(ctx, Tables()...); err != nil {
		return fmt.Errorf("dataservice: running migration: %w", err)
	}
	return nil
}

func (s *SQLService) Name() string                                 { return "sql" }
func (s *SQLService) Owners() Table[types.Owner]                   { return s.owners }
func (s *SQLService) Properties() Table[types.Property]            { return s.properties }
func (s *SQLService) Applications() Table[types.Application]       { return s.applications }
func (s *SQLService) Protests() Table[types.Protest]               { return s.protests }
func (s *SQLService) Contacts() Table[types.Contact]               { return s.contacts }
func (s *SQLService) EvidenceUploads() Table[types.EvidenceUpload] { return s.evidence }
func (s *SQLService) Documents() Table[types.CustomerDocument]     { return s.documents }
func (s *SQLService) Profiles() Table[types.Profile]               { return s.profiles }
func (s *SQLService) Bills() Table[types.Bill]                     { return s.bills }
func (s *SQLService) Invoices() Table[types.Invoice]               { return s.invoices }
func (s *SQLService) Referrals() Table[types.Referral]             { return s.referrals }

type sqlTable[T any] struct {
	drv  *entsql.Driver
	desc descriptor[T]
}

func (t *sqlTable[T]) builder() *entsql.DialectBuilder {
	return entsql.Dialect(t.drv.Dialect())
}

func (t *sqlTable[T]) name() string {
	return t.desc.table.Name
}

func (t *sqlTable[T]) Create(ctx context.Context, v T) (T, error) {
	if id := t.desc.id(&v); *id == "" {
		*id = uuid.New().String()
	}
	if created := t.desc.createdAt(&v); created.IsZero() {
		*created = time.Now().UTC()
	}
	query, args := t.builder().Insert(t.name()).
		Columns(t.desc.columns()...).
		Values(t.desc.values(&v)...).
		Query()
	var res stdsql.Result
	if err := t.drv.Exec(ctx, query, args, &res); err != nil {
		return v, fmt.Errorf("inserting into %s: %w", t.name(), err)
	}
	return v, nil
}

func (t *sqlTable[T]) Get(ctx context.Context, id string) (T, error) {
	b := t.builder()
	sel := b.Select(t.desc.columns()...).
		From(b.Table(t.name())).
		Where(entsql.EQ("id", id)).
		Limit(1)
	rows, err := t.query(ctx, sel)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", t.name(), id, ErrNotFound)
	}
	return rows[0], nil
}

func (t *sqlTable[T]) List(ctx context.Context, q Query) ([]T, error) {
	b := t.builder()
	sel := b.Select(t.desc.columns()...).From(b.Table(t.name()))

	if len(q.Where) > 0 {
		cols := make([]string, 0, len(q.Where))
		for col := range q.Where {
			if t.desc.columnIndex(col) < 0 {
				return nil, fmt.Errorf("%s: unknown column %q", t.name(), col)
			}
			cols = append(cols, col)
		}
		sort.Strings(cols)
		preds := make([]*entsql.Predicate, 0, len(cols))
		for _, col := range cols {
			preds = append(preds, entsql.EQ(col, q.Where[col]))
		}
		sel.Where(entsql.And(preds...))
	}

	order := q.OrderBy
	if order == "" {
		order = "created_at"
	} else if t.desc.columnIndex(order) < 0 {
		return nil, fmt.Errorf("%s: unknown column %q", t.name(), order)
	}
	if q.Desc {
		sel.OrderBy(entsql.Desc(order))
	} else {
		sel.OrderBy(entsql.Asc(order))
	}

	switch {
	case q.Limit > 0:
		sel.Limit(q.Limit)
	case q.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT.
		sel.Limit(math.MaxInt32)
	}
	if q.Offset > 0 {
		sel.Offset(q.Offset)
	}
	return t.query(ctx, sel)
}

func (t *sqlTable[T]) query(ctx context.Context, sel *entsql.Selector) ([]T, error) {
	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := t.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.name(), err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var v T
		if err := rows.Scan(t.desc.fields(&v)...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", t.name(), err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", t.name(), err)
	}
	return out, nil
}

func (t *sqlTable[T]) Update(ctx context.Context, v T) (T, error) {
	id := *t.desc.id(&v)
	cols := t.desc.columns()
	vals := t.desc.values(&v)

	upd := t.builder().Update(t.name())
	// Skip id (first) and created_at (last); both are immutable.
	for i := 1; i < len(cols)-1; i++ {
		if vals[i] == nil {
			upd.SetNull(cols[i])
			continue
		}
		upd.Set(cols[i], vals[i])
	}
	upd.Where(entsql.EQ("id", id))

	query, args := upd.Query()
	var res stdsql.Result
	if err := t.drv.Exec(ctx, query, args, &res); err != nil {
		return v, fmt.Errorf("updating %s: %w", t.name(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return v, fmt.Errorf("%s %s: %w", t.name(), id, ErrNotFound)
	}
	return t.Get(ctx, id)
}

func (t *sqlTable[T]) Delete(ctx context.Context, id string) error {
	query, args := t.builder().Delete(t.name()).Where(entsql.EQ("id", id)).Query()
	var res stdsql.Result
	if err := t.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("deleting from %s: %w", t.name(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", t.name(), id, ErrNotFound)
	}
	return nil
}

// OpenSQLite opens a SQLite database with foreign keys enabled and wraps it
// in an ent driver. SQLite allows a single writer, so the pool is capped at one.
func OpenSQLite(ctx context.Context, dsn string) (*entsql.Driver, error) {
	db, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return entsql.OpenDB(dialect.SQLite, db), nil
}
