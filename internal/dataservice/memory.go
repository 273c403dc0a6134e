package dataservice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// MemoryService implements DataService using in-memory slices. Each call
// sleeps for the configured latency first so demos behave like a remote
// backend. Intended for demos and tests.
type MemoryService struct {
	owners       *memoryTable[types.Owner]
	properties   *memoryTable[types.Property]
	applications *memoryTable[types.Application]
	protests     *memoryTable[types.Protest]
	contacts     *memoryTable[types.Contact]
	evidence     *memoryTable[types.EvidenceUpload]
	documents    *memoryTable[types.CustomerDocument]
	profiles     *memoryTable[types.Profile]
	bills        *memoryTable[types.Bill]
	invoices     *memoryTable[types.Invoice]
	referrals    *memoryTable[types.Referral]
}

// NewMemoryService creates an empty MemoryService.
func NewMemoryService(latency time.Duration) *MemoryService {
	return &MemoryService{
		owners:       newMemoryTable(ownerDesc, latency),
		properties:   newMemoryTable(propertyDesc, latency),
		applications: newMemoryTable(applicationDesc, latency),
		protests:     newMemoryTable(protestDesc, latency),
		contacts:     newMemoryTable(contactDesc, latency),
		evidence:     newMemoryTable(evidenceDesc, latency),
		documents:    newMemoryTable(documentDesc, latency),
		profiles:     newMemoryTable(profileDesc, latency),
		bills:        newMemoryTable(billDesc, latency),
		invoices:     newMemoryTable(invoiceDesc, latency),
		referrals:    newMemoryTable(referralDesc, latency),
	}
}

func (s *MemoryService) Name() string                                 { return "memory" }
func (s *MemoryService) Owners() Table[types.Owner]                   { return s.owners }
func (s *MemoryService) Properties() Table[types.Property]            { return s.properties }
func (s *MemoryService) Applications() Table[types.Application]       { return s.applications }
func (s *MemoryService) Protests() Table[types.Protest]               { return s.protests }
func (s *MemoryService) Contacts() Table[types.Contact]               { return s.contacts }
func (s *MemoryService) EvidenceUploads() Table[types.EvidenceUpload] { return s.evidence }
func (s *MemoryService) Documents() Table[types.CustomerDocument]     { return s.documents }
func (s *MemoryService) Profiles() Table[types.Profile]               { return s.profiles }
func (s *MemoryService) Bills() Table[types.Bill]                     { return s.bills }
func (s *MemoryService) Invoices() Table[types.Invoice]               { return s.invoices }
func (s *MemoryService) Referrals() Table[types.Referral]             { return s.referrals }

type memoryTable[T any] struct {
	mu      sync.RWMutex
	desc    descriptor[T]
	rows    []T
	latency time.Duration
}

func newMemoryTable[T any](desc descriptor[T], latency time.Duration) *memoryTable[T] {
	return &memoryTable[T]{desc: desc, latency: latency}
}

func (t *memoryTable[T]) wait(ctx context.Context) error {
	if t.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memoryTable[T]) find(id string) int {
	for i := range t.rows {
		if *t.desc.id(&t.rows[i]) == id {
			return i
		}
	}
	return -1
}

func (t *memoryTable[T]) Create(ctx context.Context, v T) (T, error) {
	if err := t.wait(ctx); err != nil {
		return v, err
	}
	if id := t.desc.id(&v); *id == "" {
		*id = uuid.New().String()
	}
	if created := t.desc.createdAt(&v); created.IsZero() {
		*created = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.find(*t.desc.id(&v)) >= 0 {
		return v, fmt.Errorf("%s: duplicate id %s", t.desc.table.Name, *t.desc.id(&v))
	}
	t.rows = append(t.rows, v)
	return v, nil
}

func (t *memoryTable[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := t.wait(ctx); err != nil {
		return zero, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.find(id)
	if i < 0 {
		return zero, fmt.Errorf("%s %s: %w", t.desc.table.Name, id, ErrNotFound)
	}
	return t.rows[i], nil
}

func (t *memoryTable[T]) List(ctx context.Context, q Query) ([]T, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	filters := make(map[int]string, len(q.Where))
	for col, want := range q.Where {
		idx := t.desc.columnIndex(col)
		if idx < 0 {
			return nil, fmt.Errorf("%s: unknown column %q", t.desc.table.Name, col)
		}
		filters[idx] = fmt.Sprint(want)
	}
	orderIdx := len(t.desc.table.Columns) - 1
	if q.OrderBy != "" {
		if orderIdx = t.desc.columnIndex(q.OrderBy); orderIdx < 0 {
			return nil, fmt.Errorf("%s: unknown column %q", t.desc.table.Name, q.OrderBy)
		}
	}

	t.mu.RLock()
	var matched []T
	for i := range t.rows {
		vals := t.desc.values(&t.rows[i])
		ok := true
		for idx, want := range filters {
			if vals[idx] == nil || fmt.Sprint(vals[idx]) != want {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, t.rows[i])
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := t.desc.values(&matched[i])[orderIdx], t.desc.values(&matched[j])[orderIdx]
		if q.Desc {
			return lessValue(b, a)
		}
		return lessValue(a, b)
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (t *memoryTable[T]) Update(ctx context.Context, v T) (T, error) {
	if err := t.wait(ctx); err != nil {
		return v, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.find(*t.desc.id(&v))
	if i < 0 {
		return v, fmt.Errorf("%s %s: %w", t.desc.table.Name, *t.desc.id(&v), ErrNotFound)
	}
	*t.desc.createdAt(&v) = *t.desc.createdAt(&t.rows[i])
	t.rows[i] = v
	return v, nil
}

func (t *memoryTable[T]) Delete(ctx context.Context, id string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.find(id)
	if i < 0 {
		return fmt.Errorf("%s %s: %w", t.desc.table.Name, id, ErrNotFound)
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Before(bv)
	case int:
		bv, _ := b.(int)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case nil:
		return b != nil
	default:
		return fmt.Sprint(a) < fmt.Sprint(b)
	}
}
