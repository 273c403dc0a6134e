// Package draft persists wizard snapshots in a session store between HTTP
// requests and guards a draft against being submitted twice.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

var (
	// ErrNotFound is returned for an unknown or expired draft.
	ErrNotFound = errors.New("draft: not found")
	// ErrAlreadySubmitting is returned when a draft's submission is in flight.
	ErrAlreadySubmitting = errors.New("draft: already submitting")
	// ErrConflict is returned when another request saved the draft first.
	ErrConflict = errors.New("draft: changed by another request")
)

// Draft is the persisted form of an in-flight wizard.
type Draft[D any] struct {
	ID         string          `json:"id"`
	State      wizard.State[D] `json:"state"`
	Submitting bool            `json:"submitting"`
	Owner      string          `json:"owner,omitempty"` // staff id for concierge drafts
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store keeps drafts of form data D updated by patches P.
type Store[D, P any] struct {
	sessions session.Store
	prefix   string
	ttl      time.Duration
	merge    func(D, P) D

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewStore creates a Store. Keys are namespaced with prefix; every save
// extends the draft's expiry to ttl.
func NewStore[D, P any](sessions session.Store, prefix string, ttl time.Duration, merge func(D, P) D) *Store[D, P] {
	return &Store[D, P]{
		sessions: sessions,
		prefix:   prefix,
		ttl:      ttl,
		merge:    merge,
		inflight: make(map[string]struct{}),
	}
}

// Create persists a new draft for w.
func (s *Store[D, P]) Create(ctx context.Context, w *wizard.Wizard[D, P], owner string) (*Draft[D], error) {
	now := time.Now().UTC()
	d := &Draft[D]{
		ID:        uuid.New().String(),
		State:     w.State(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Load returns the draft and a wizard restored from it.
func (s *Store[D, P]) Load(ctx context.Context, id string) (*Draft[D], *wizard.Wizard[D, P], error) {
	d, _, err := s.read(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return d, wizard.Restore(d.State, s.merge), nil
}

func (s *Store[D, P]) read(ctx context.Context, id string) (*Draft[D], []byte, error) {
	raw, err := s.sessions.Get(ctx, s.prefix+id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading draft %s: %w", id, err)
	}
	var d Draft[D]
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, nil, fmt.Errorf("decoding draft %s: %w", id, err)
	}
	return &d, raw, nil
}

// Save writes w's snapshot back into d. It fails with ErrAlreadySubmitting
// once a submission has begun, ErrNotFound once the draft is gone and
// ErrConflict when another request saved it since d was loaded.
func (s *Store[D, P]) Save(ctx context.Context, d *Draft[D], w *wizard.Wizard[D, P]) error {
	s.mu.Lock()
	_, busy := s.inflight[d.ID]
	s.mu.Unlock()
	if busy {
		return ErrAlreadySubmitting
	}

	next := *d
	next.State = w.State()
	next.UpdatedAt = time.Now().UTC()
	if err := s.swap(ctx, d.Version, &next, false); err != nil {
		return err
	}
	*d = next
	return nil
}

// swap writes next over the stored draft if the stored copy is still at
// version and its submitting flag equals submitting.
func (s *Store[D, P]) swap(ctx context.Context, version int64, next *Draft[D], submitting bool) error {
	cur, raw, err := s.read(ctx, next.ID)
	if err != nil {
		return err
	}
	if cur.Submitting != submitting {
		return ErrAlreadySubmitting
	}
	if cur.Version != version {
		return fmt.Errorf("%w: %s", ErrConflict, next.ID)
	}
	next.Version = version + 1
	buf, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding draft %s: %w", next.ID, err)
	}
	err = s.sessions.Swap(ctx, s.prefix+next.ID, raw, buf, s.ttl)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, next.ID)
	case errors.Is(err, session.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, next.ID)
	case err != nil:
		return fmt.Errorf("saving draft %s: %w", next.ID, err)
	}
	return nil
}

// Delete removes a draft.
func (s *Store[D, P]) Delete(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, s.prefix+id)
}

func (s *Store[D, P]) put(ctx context.Context, d *Draft[D]) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding draft %s: %w", d.ID, err)
	}
	if err := s.sessions.Put(ctx, s.prefix+d.ID, raw, s.ttl); err != nil {
		return fmt.Errorf("saving draft %s: %w", d.ID, err)
	}
	return nil
}

// Begin marks the draft as submitting and returns it with its wizard. The
// returned finish func must be called exactly once: on success the draft is
// deleted, otherwise the submitting flag is cleared so the user can retry.
func (s *Store[D, P]) Begin(ctx context.Context, id string) (*Draft[D], *wizard.Wizard[D, P], func(ok bool), error) {
	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return nil, nil, nil, ErrAlreadySubmitting
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}

	d, w, err := s.Load(ctx, id)
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	// Another instance sharing the session store may hold the draft.
	if d.Submitting {
		release()
		return nil, nil, nil, ErrAlreadySubmitting
	}
	d.Submitting = true
	if err := s.swap(ctx, d.Version, d, false); err != nil {
		release()
		if errors.Is(err, ErrConflict) {
			err = ErrAlreadySubmitting
		}
		return nil, nil, nil, err
	}

	finish := func(ok bool) {
		defer release()
		ctx := context.WithoutCancel(ctx)
		if ok {
			_ = s.Delete(ctx, id)
			return
		}
		d.Submitting = false
		_ = s.swap(ctx, d.Version, d, true)
	}
	return d, w, finish, nil
}
