// Package dataservice is the narrow repository every intake, concierge and
// portal operation goes through. A DataService exposes one Table per entity
// with the same CRUD surface, so callers never know whether rows live in
// memory, in SQLite or nowhere at all.
//
// The concrete service is chosen once in cmd/server and passed down
// explicitly; nothing in this package selects an implementation on its own.
package dataservice

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/matthewbaird/protestdesk/internal/types"
)

var (
	// ErrNotFound is returned when a row with the requested id does not exist.
	ErrNotFound = errors.New("dataservice: not found")
	// ErrNotImplemented is returned by backends that do not support an entity.
	ErrNotImplemented = errors.New("dataservice: not implemented")
)

// Table is the uniform CRUD surface for one entity type.
type Table[T any] interface {
	// Create inserts v. An empty id is replaced with a new UUID and a zero
	// created_at with the current time; the stored row is returned.
	Create(ctx context.Context, v T) (T, error)
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context, q Query) ([]T, error)
	// Update replaces every mutable column of the row identified by v's id.
	Update(ctx context.Context, v T) (T, error)
	Delete(ctx context.Context, id string) error
}

// DataService groups the tables backing the application.
type DataService interface {
	Name() string
	Owners() Table[types.Owner]
	Properties() Table[types.Property]
	Applications() Table[types.Application]
	Protests() Table[types.Protest]
	Contacts() Table[types.Contact]
	EvidenceUploads() Table[types.EvidenceUpload]
	Documents() Table[types.CustomerDocument]
	Profiles() Table[types.Profile]
	Bills() Table[types.Bill]
	Invoices() Table[types.Invoice]
	Referrals() Table[types.Referral]
}

// Query filters rows by column equality and pages through them. Rows are
// ordered by created_at ascending unless OrderBy/Desc say otherwise.
type Query struct {
	Where   map[string]any
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Where returns a Query matching rows whose column equals value.
func Where(column string, value any) Query {
	return Query{Where: map[string]any{column: value}}
}

// And adds another equality condition to q.
func (q Query) And(column string, value any) Query {
	where := make(map[string]any, len(q.Where)+1)
	for k, v := range q.Where {
		where[k] = v
	}
	where[column] = value
	q.Where = where
	return q
}

// Newest orders q by created_at descending.
func (q Query) Newest() Query {
	q.OrderBy = "created_at"
	q.Desc = true
	return q
}

// First returns the first row matching q, or ErrNotFound.
func First[T any](ctx context.Context, t Table[T], q Query) (T, error) {
	q.Limit = 1
	rows, err := t.List(ctx, q)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, ErrNotFound
	}
	return rows[0], nil
}

// New builds the service named by backend. Only "memory" and "sql" need
// arguments from the caller; "stub" returns a service that rejects every call.
func New(backend string, opts Options) (DataService, error) {
	switch backend {
	case "memory", "mock", "":
		return NewMemoryService(opts.Latency), nil
	case "sql", "sqlite":
		if opts.Driver == nil {
			return nil, fmt.Errorf("dataservice: %s backend requires a driver", backend)
		}
		return NewSQLService(opts.Driver), nil
	case "stub":
		return NewStubService(), nil
	default:
		return nil, fmt.Errorf("dataservice: unknown backend %q (want one of %v)", backend, Backends())
	}
}

// Backends lists the accepted backend names.
func Backends() []string {
	names := []string{"memory", "sql", "stub"}
	sort.Strings(names)
	return names
}
