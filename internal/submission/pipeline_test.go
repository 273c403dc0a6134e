package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// callLog records every backend call in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (l *callLog) hit(call string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	return l.fail[call]
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type loggedTable[T any] struct {
	dataservice.Table[T]
	name string
	log  *callLog
}

func (t loggedTable[T]) Create(ctx context.Context, v T) (T, error) {
	if err := t.log.hit(t.name + ".Create"); err != nil {
		var zero T
		return zero, err
	}
	return t.Table.Create(ctx, v)
}

func (t loggedTable[T]) Get(ctx context.Context, id string) (T, error) {
	if err := t.log.hit(t.name + ".Get"); err != nil {
		var zero T
		return zero, err
	}
	return t.Table.Get(ctx, id)
}

func (t loggedTable[T]) List(ctx context.Context, q dataservice.Query) ([]T, error) {
	if err := t.log.hit(t.name + ".List"); err != nil {
		return nil, err
	}
	return t.Table.List(ctx, q)
}

func (t loggedTable[T]) Update(ctx context.Context, v T) (T, error) {
	if err := t.log.hit(t.name + ".Update"); err != nil {
		var zero T
		return zero, err
	}
	return t.Table.Update(ctx, v)
}

func (t loggedTable[T]) Delete(ctx context.Context, id string) error {
	if err := t.log.hit(t.name + ".Delete"); err != nil {
		return err
	}
	return t.Table.Delete(ctx, id)
}

func wrap[T any](log *callLog, name string, t dataservice.Table[T]) dataservice.Table[T] {
	return loggedTable[T]{Table: t, name: name, log: log}
}

// loggedService wraps a memory service, logging each table call.
type loggedService struct {
	*dataservice.MemoryService
	log *callLog
}

func (s loggedService) Owners() dataservice.Table[types.Owner] {
	return wrap(s.log, "owners", s.MemoryService.Owners())
}
func (s loggedService) Properties() dataservice.Table[types.Property] {
	return wrap(s.log, "properties", s.MemoryService.Properties())
}
func (s loggedService) Applications() dataservice.Table[types.Application] {
	return wrap(s.log, "applications", s.MemoryService.Applications())
}
func (s loggedService) Protests() dataservice.Table[types.Protest] {
	return wrap(s.log, "protests", s.MemoryService.Protests())
}
func (s loggedService) Profiles() dataservice.Table[types.Profile] {
	return wrap(s.log, "profiles", s.MemoryService.Profiles())
}
func (s loggedService) Referrals() dataservice.Table[types.Referral] {
	return wrap(s.log, "referrals", s.MemoryService.Referrals())
}

type fakeInvoker struct {
	log  *callLog
	fail map[string]error
}

func (f fakeInvoker) Invoke(_ context.Context, name string, payload any) (json.RawMessage, error) {
	f.log.hit("fn:" + name)
	if req, ok := payload.(functions.DocumentRequest); !ok || req.PropertyID == "" || req.UserID == "" {
		return nil, errors.New("bad payload")
	}
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

type harness struct {
	pipeline *Pipeline
	ds       loggedService
	log      *callLog
	store    *activity.MemoryStore
	fnFail   map[string]error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &callLog{fail: map[string]error{}}
	ds := loggedService{MemoryService: dataservice.NewMemoryService(0), log: log}
	store := activity.NewMemoryStore()
	fnFail := map[string]error{}
	p := New(ds, fakeInvoker{log: log, fail: fnFail}, event.NewActivityRecorder(store), zap.NewNop(),
		WithReferrals(referral.NewService(ds)),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }),
	)
	return &harness{pipeline: p, ds: ds, log: log, store: store, fnFail: fnFail}
}

func drawnSignature(t *testing.T) string {
	t.Helper()
	sig, err := signature.Capture(signature.Input{Mode: signature.ModeDrawn, Strokes: [][]signature.Point{
		{{X: 20, Y: 20}, {X: 180, Y: 90}},
	}})
	require.NoError(t, err)
	return sig
}

func completeRequest(t *testing.T) Request {
	lat, lng := 30.2672, -97.7431
	return Request{
		Channel: ChannelPublic,
		Owner: OwnerInput{
			FirstName: "Dana", LastName: "Hill", Email: "Dana@Example.com", Phone: "512-555-0101", Role: "owner",
		},
		Place: types.PlaceData{
			PlaceID: "ChIJ123", FormattedAddress: "123 Main St, Austin, TX 78701",
			Street: "123 Main St", City: "Austin", State: "TX", Zip: "78701", County: "Travis",
			Latitude: &lat, Longitude: &lng,
		},
		Signature:       drawnSignature(t),
		SignatureMode:   "drawn",
		IsOwnerVerified: true,
		UpdatesOptIn:    true,
	}
}

func TestSubmit_CallsBackendInOrder(t *testing.T) {
	h := newHarness(t)
	res, err := h.pipeline.Submit(context.Background(), completeRequest(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.PropertyID)
	assert.True(t, res.OwnerCreated)

	calls := h.log.snapshot()
	require.Len(t, calls, 10)
	assert.Equal(t, []string{
		"profiles.List", "profiles.Create",
		"owners.List", "owners.Create",
		"properties.Create",
		"applications.Create",
		"protests.Create",
	}, calls[:7])
	assert.ElementsMatch(t, []string{"fn:" + functions.GenerateForm50162, "fn:" + functions.GenerateServicesAgreement}, calls[7:9])
	assert.Equal(t, "referrals.List", calls[9])

	for _, d := range res.Documents {
		assert.True(t, d.OK, d.Function)
	}

	ctx := context.Background()
	prop, err := h.ds.MemoryService.Properties().Get(ctx, res.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, res.OwnerID, prop.OwnerID)
	assert.Equal(t, res.UserID, prop.UserID)
	assert.Equal(t, "Travis", prop.County)

	protest, err := h.ds.MemoryService.Protests().Get(ctx, res.ProtestID)
	require.NoError(t, err)
	assert.Equal(t, 2026, protest.TaxYear)
	assert.Equal(t, res.ApplicationID, protest.ApplicationID)

	app, err := h.ds.MemoryService.Applications().Get(ctx, res.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, "self", app.SubmittedBy)
	assert.Equal(t, ChannelPublic, app.Channel)

	entries, _, _, err := h.store.QueryByEntity(ctx, "property", res.PropertyID, activity.DefaultQueryOptions())
	require.NoError(t, err)
	assert.Len(t, entries, 3, "enrolled, application, protest")
}

func TestSubmit_TrustFields(t *testing.T) {
	ctx := context.Background()

	t.Run("entity", func(t *testing.T) {
		h := newHarness(t)
		req := completeRequest(t)
		req.Owner.IsEntity = true
		req.Owner.EntityName = "Hill Family Trust"
		req.Owner.EntityRelationship = "trustee"
		req.Owner.EntityType = "trust"

		res, err := h.pipeline.Submit(ctx, req)
		require.NoError(t, err)
		owner, err := h.ds.MemoryService.Owners().Get(ctx, res.OwnerID)
		require.NoError(t, err)
		assert.True(t, owner.IsEntity)
		require.NotNil(t, owner.EntityName)
		require.NotNil(t, owner.EntityRelationship)
		require.NotNil(t, owner.EntityType)
		assert.Equal(t, "Hill Family Trust", *owner.EntityName)
		assert.Equal(t, "trustee", *owner.EntityRelationship)
		assert.Equal(t, "trust", *owner.EntityType)
	})

	t.Run("individual", func(t *testing.T) {
		h := newHarness(t)
		req := completeRequest(t)
		req.Owner.EntityName = "stale value"

		res, err := h.pipeline.Submit(ctx, req)
		require.NoError(t, err)
		owner, err := h.ds.MemoryService.Owners().Get(ctx, res.OwnerID)
		require.NoError(t, err)
		assert.False(t, owner.IsEntity)
		assert.Nil(t, owner.EntityName)
		assert.Nil(t, owner.EntityRelationship)
		assert.Nil(t, owner.EntityType)
	})

	t.Run("entity without sub-fields", func(t *testing.T) {
		h := newHarness(t)
		req := completeRequest(t)
		req.Owner.IsEntity = true

		_, err := h.pipeline.Submit(ctx, req)
		var perr *PrerequisiteError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, []string{"entity_name", "entity_relationship", "entity_type"}, perr.Missing)
		assert.Empty(t, h.log.snapshot())
	})
}

func TestSubmit_MissingPlaceIDMakesNoBackendCall(t *testing.T) {
	h := newHarness(t)
	req := completeRequest(t)
	req.Place = types.PlaceData{FormattedAddress: "123 Main St"}

	_, err := h.pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingPrerequisite)
	assert.Empty(t, h.log.snapshot())
}

func TestSubmit_MissingSignature(t *testing.T) {
	h := newHarness(t)
	req := completeRequest(t)
	req.Signature = ""

	_, err := h.pipeline.Submit(context.Background(), req)
	var perr *PrerequisiteError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"signature"}, perr.Missing)
	assert.Empty(t, h.log.snapshot())
}

func TestSubmit_FailureAbortsWithoutRollback(t *testing.T) {
	h := newHarness(t)
	h.log.fail["applications.Create"] = errors.New("connection reset")
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, completeRequest(t))
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StepApplication, serr.Step)
	assert.NotEmpty(t, serr.Created.OwnerID)
	assert.NotEmpty(t, serr.Created.PropertyID)
	assert.Empty(t, serr.Created.ApplicationID)

	calls := h.log.snapshot()
	assert.Equal(t, "applications.Create", calls[len(calls)-1], "nothing runs after the failed step")

	_, err = h.ds.MemoryService.Properties().Get(ctx, serr.Created.PropertyID)
	assert.NoError(t, err, "earlier inserts are left in place")

	entries, _, _, err := h.store.QueryByEntity(ctx, "owner", serr.Created.OwnerID, activity.DefaultQueryOptions())
	require.NoError(t, err)
	var failed bool
	for _, e := range entries {
		failed = failed || e.EventType == "submission_failed"
	}
	assert.True(t, failed)
}

func TestSubmit_DocumentFailureIsSettledNotFatal(t *testing.T) {
	h := newHarness(t)
	h.fnFail[functions.GenerateServicesAgreement] = errors.New("template error")
	ctx := context.Background()

	res, err := h.pipeline.Submit(ctx, completeRequest(t))
	require.NoError(t, err)
	assert.True(t, res.Success)

	byName := map[string]DocumentOutcome{}
	for _, d := range res.Documents {
		byName[d.Function] = d
	}
	assert.True(t, byName[functions.GenerateForm50162].OK)
	assert.False(t, byName[functions.GenerateServicesAgreement].OK)
	assert.Contains(t, byName[functions.GenerateServicesAgreement].Error, "template error")

	opts := activity.DefaultQueryOptions()
	opts.Categories = []string{"document"}
	entries, _, _, err := h.store.QueryByEntity(ctx, "property", res.PropertyID, opts)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "document_generation_failed", entries[0].EventType)
}

// rendezvousInvoker holds every call until want calls have arrived.
type rendezvousInvoker struct {
	mu   sync.Mutex
	n    int
	want int
	all  chan struct{}
}

func (r *rendezvousInvoker) Invoke(ctx context.Context, name string, _ any) (json.RawMessage, error) {
	r.mu.Lock()
	r.n++
	if r.n == r.want {
		close(r.all)
	}
	r.mu.Unlock()
	select {
	case <-r.all:
		return json.RawMessage(`{}`), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s waited alone: %w", name, ctx.Err())
	}
}

func TestSubmit_DocumentCallsRunConcurrently(t *testing.T) {
	fn := &rendezvousInvoker{want: 2, all: make(chan struct{})}
	p := New(dataservice.NewMemoryService(0), fn, event.NewActivityRecorder(activity.NewMemoryStore()), zap.NewNop(),
		WithDocumentTimeout(2*time.Second))

	res, err := p.Submit(context.Background(), completeRequest(t))
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	for _, d := range res.Documents {
		assert.True(t, d.OK, "%s: %s", d.Function, d.Error)
	}
}

// stallInvoker blocks the named function until its context ends.
type stallInvoker struct{ name string }

func (s stallInvoker) Invoke(ctx context.Context, name string, _ any) (json.RawMessage, error) {
	if name != s.name {
		return json.RawMessage(`{}`), nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// liveCtxRecorder refuses to record on a finished context.
type liveCtxRecorder struct{ event.Recorder }

func (r liveCtxRecorder) Record(ctx context.Context, evt event.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Recorder.Record(ctx, evt)
}

func TestSubmit_DocumentTimeoutStillRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := activity.NewMemoryStore()
	p := New(dataservice.NewMemoryService(0), stallInvoker{name: functions.GenerateForm50162},
		liveCtxRecorder{event.NewActivityRecorder(store)}, zap.NewNop(),
		WithDocumentTimeout(20*time.Millisecond))

	res, err := p.Submit(ctx, completeRequest(t))
	require.NoError(t, err)

	opts := activity.DefaultQueryOptions()
	opts.Categories = []string{"document"}
	entries, _, _, err := store.QueryByEntity(ctx, "property", res.PropertyID, opts)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "document_generation_failed", entries[0].EventType)
}

func TestSubmit_ReusesOwnerAndAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.pipeline.Submit(ctx, completeRequest(t))
	require.NoError(t, err)

	req := completeRequest(t)
	req.Place.PlaceID = "ChIJ456"
	req.Place.FormattedAddress = "456 Oak Ave, Austin, TX 78702"
	second, err := h.pipeline.Submit(ctx, req)
	require.NoError(t, err)

	assert.False(t, second.OwnerCreated)
	assert.Equal(t, first.OwnerID, second.OwnerID)
	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, first.PropertyID, second.PropertyID)
}

func TestSubmit_AttributesReferralCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ds.MemoryService.Profiles().Create(ctx, types.Profile{
		Email: "amy@example.com", Role: "customer", ReferralCode: "AMY12345",
	})
	require.NoError(t, err)

	req := completeRequest(t)
	req.ReferralCode = "amy12345"
	req.UTMSource = "mailer"
	res, err := h.pipeline.Submit(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, res.ReferralID)

	ref, err := h.ds.MemoryService.Referrals().Get(ctx, res.ReferralID)
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", ref.ReferredEmail)
	assert.Equal(t, "mailer", ref.Source)
	require.NotNil(t, ref.PropertyID)
	assert.Equal(t, res.PropertyID, *ref.PropertyID)
}
