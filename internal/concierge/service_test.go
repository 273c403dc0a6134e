package concierge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/draft"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

const staff = "staff-7"

type harness struct {
	ds  *dataservice.MemoryService
	svc *Service
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ds := dataservice.NewMemoryService(0)
	fn := functions.NewRegistry()
	for _, name := range []string{functions.GenerateForm50162, functions.GenerateServicesAgreement} {
		fn.Register(name, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	}
	sessions := session.NewMemoryStore(time.Minute)
	t.Cleanup(sessions.Close)
	pipe := submission.New(ds, fn, event.Discard{}, zap.NewNop())
	return harness{ds: ds, svc: NewService(ds, sessions, pipe, time.Hour, zap.NewNop())}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

const personal = `{
	"first_name":"Grace","last_name":"Hopper","email":"grace@example.com","role":"owner",
	"is_trust_entity":true,"entity_name":"Hopper Trust","entity_relationship":"trustee","entity_type":"trust",
	"property":{"place_id":"pl_g","formatted_address":"1 Navy Way, Arlington, VA","state":"VA"}
}`

func TestSearch_NoRowsOffersCreateNew(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	v, err := h.svc.Start(ctx, staff)
	require.NoError(t, err)
	require.Equal(t, StepCustomer, v.Step)

	res, v, err := h.svc.SearchDraft(ctx, v.ID, staff, "Nobody@Example.com")
	require.NoError(t, err)
	assert.True(t, res.CreateNew)
	assert.Empty(t, res.Matches)
	assert.Equal(t, StepCustomer, v.Step)

	v, err = h.svc.CreateNewDraft(ctx, v.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StepPersonalInfo, v.Step)
	assert.Equal(t, ModeNew, v.Data.CustomerMode)
	assert.Equal(t, "nobody@example.com", v.Data.Email)
}

func TestSearch_UniqueMatchSeedsPersonalInfo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	profile, err := h.ds.Profiles().Create(ctx, types.Profile{Email: "grace@example.com", FirstName: "Grace", LastName: "Hopper", Role: "customer"})
	require.NoError(t, err)
	name, rel, kind := "Hopper Trust", "trustee", "trust"
	_, err = h.ds.Owners().Create(ctx, types.Owner{
		UserID: profile.ID, Email: "grace@example.com", FirstName: "Grace", LastName: "Hopper",
		IsEntity: true, EntityName: &name, EntityRelationship: &rel, EntityType: &kind,
	})
	require.NoError(t, err)

	v, err := h.svc.Start(ctx, staff)
	require.NoError(t, err)
	res, v, err := h.svc.SearchDraft(ctx, v.ID, staff, "grace@example.com")
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.False(t, res.CreateNew)
	assert.Equal(t, "Hopper Trust", res.Matches[0].EntityName)

	assert.Equal(t, ModeExisting, v.Data.CustomerMode)
	assert.Equal(t, profile.ID, v.Data.ExistingUserID)
	assert.True(t, v.Data.IsTrustEntity)
	assert.Equal(t, "trustee", v.Data.EntityRelationship)

	v, err = h.svc.Step(ctx, v.ID, staff, StepCustomer, raw(`{"customer_mode":"existing","existing_user_id":"`+profile.ID+`"}`))
	require.NoError(t, err)
	assert.Equal(t, StepPersonalInfo, v.Step)
	seeded := v.Form.(PersonalInput)
	assert.Equal(t, "Grace", seeded.FirstName)
}

func TestCustomerStep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v, err := h.svc.Start(ctx, staff)
	require.NoError(t, err)

	_, err = h.svc.Step(ctx, v.ID, staff, StepCustomer, raw(`{"customer_mode":"existing"}`))
	var verr validate.Errors
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr["existing_user_id"])

	_, err = h.svc.Step(ctx, v.ID, staff, StepCustomer, raw(`{"customer_mode":"existing","existing_user_id":"ghost"}`))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is not a known customer", verr["existing_user_id"])

	_, _, err = h.svc.SearchDraft(ctx, v.ID, staff, "not an email")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr, "search_email")
}

func TestDraftsAreScopedToStaff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v, err := h.svc.Start(ctx, staff)
	require.NoError(t, err)

	_, err = h.svc.Get(ctx, v.ID, "someone-else")
	assert.ErrorIs(t, err, draft.ErrNotFound)

	_, err = h.svc.Start(ctx, "")
	assert.ErrorIs(t, err, ErrStaffRequired)
}

func TestCreateNewOnlyFromCustomerStep(t *testing.T) {
	h := newHarness(t)
	w := h.svc.NewWizard(staff, false)
	require.NoError(t, h.svc.CreateNew(w))
	assert.ErrorIs(t, h.svc.CreateNew(w), ErrNotOnCustomerStep)
}

func TestFullConciergeFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	v, err := h.svc.Start(ctx, staff)
	require.NoError(t, err)
	_, v, err = h.svc.SearchDraft(ctx, v.ID, staff, "grace@example.com")
	require.NoError(t, err)
	v, err = h.svc.CreateNewDraft(ctx, v.ID, staff)
	require.NoError(t, err)

	v, err = h.svc.Step(ctx, v.ID, staff, StepPersonalInfo, raw(personal))
	require.NoError(t, err)
	require.Equal(t, StepVerification, v.Step)

	_, err = h.svc.Step(ctx, v.ID, staff, StepVerification, raw(`{"is_owner_verified":false,"verification_method":"deed"}`))
	var verr validate.Errors
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be confirmed", verr["is_owner_verified"])

	_, err = h.svc.Step(ctx, v.ID, staff, StepVerification, raw(`{"is_owner_verified":true,"verification_method":"other"}`))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr["verification_notes"])

	v, err = h.svc.Step(ctx, v.ID, staff, StepVerification, raw(`{"is_owner_verified":true,"verification_method":"deed"}`))
	require.NoError(t, err)
	require.Equal(t, StepReview, v.Step)

	_, err = h.svc.Step(ctx, v.ID, staff, StepReview, raw(`{"signature_mode":"drawn"}`))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr["signature"])

	v, err = h.svc.Step(ctx, v.ID, staff, StepReview, raw(`{"signature_mode":"typed","typed_name":"Grace Hopper"}`))
	require.NoError(t, err)
	require.True(t, v.Submittable, v.Missing)

	done, err := h.svc.Complete(ctx, v.ID, staff)
	require.NoError(t, err)
	assert.True(t, done.Success)

	app, err := h.ds.Applications().Get(ctx, done.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, submission.ChannelConcierge, app.Channel)
	assert.Equal(t, staff, app.SubmittedBy)

	owner, err := h.ds.Owners().Get(ctx, done.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, owner.EntityName)
	assert.Equal(t, "Hopper Trust", *owner.EntityName)

	_, err = h.svc.Get(ctx, v.ID, staff)
	assert.ErrorIs(t, err, draft.ErrNotFound)
}

func TestPersonalInfo_UnresolvedAddress(t *testing.T) {
	_, err := personalInfoStep{}.Submit(NewFormData(staff), raw(`{
		"first_name":"Grace","last_name":"Hopper","email":"grace@example.com",
		"is_trust_entity":false,"property":{"address":"1 Navy Way"}
	}`))
	assert.ErrorIs(t, err, intake.ErrSupportRequired)

	_, err = personalInfoStep{}.Submit(NewFormData(staff), raw(`{"is_trust_entity":false,"property":{}}`))
	var verr validate.Errors
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr["property.address"])
	assert.Equal(t, "is required", verr["email"])
	assert.Equal(t, "is required", verr["first_name"])
}

func TestAnimatedWizardWaitsForAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := h.svc.NewWizard(staff, true)

	require.NoError(t, h.svc.CreateNew(w))
	assert.Equal(t, wizard.PhaseExiting, w.Phase())
	assert.Equal(t, StepCustomer, w.Current())

	err := h.svc.Apply(ctx, w, StepPersonalInfo, raw(personal))
	var mm *intake.StepMismatchError
	require.ErrorAs(t, err, &mm)

	w.Settle()
	require.NoError(t, h.svc.Apply(ctx, w, StepPersonalInfo, raw(personal)))
	assert.Equal(t, wizard.PhaseExiting, w.Phase())
}

func TestDraftEditsRefusedWhileCompleting(t *testing.T) {
	ctx := context.Background()
	ds := dataservice.NewMemoryService(0)
	started, release := make(chan struct{}), make(chan struct{})
	fn := functions.NewRegistry()
	fn.Register(functions.GenerateForm50162, func(context.Context, json.RawMessage) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	fn.Register(functions.GenerateServicesAgreement, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	sessions := session.NewMemoryStore(time.Minute)
	t.Cleanup(sessions.Close)
	svc := NewService(ds, sessions, submission.New(ds, fn, event.Discard{}, zap.NewNop()), time.Hour, zap.NewNop())

	v, err := svc.Start(ctx, staff)
	require.NoError(t, err)
	_, v, err = svc.SearchDraft(ctx, v.ID, staff, "grace@example.com")
	require.NoError(t, err)
	v, err = svc.CreateNewDraft(ctx, v.ID, staff)
	require.NoError(t, err)
	v, err = svc.Step(ctx, v.ID, staff, StepPersonalInfo, raw(personal))
	require.NoError(t, err)
	v, err = svc.Step(ctx, v.ID, staff, StepVerification, raw(`{"is_owner_verified":true,"verification_method":"deed"}`))
	require.NoError(t, err)
	v, err = svc.Step(ctx, v.ID, staff, StepReview, raw(`{"signature_mode":"typed","typed_name":"Grace Hopper"}`))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Complete(ctx, v.ID, staff)
		done <- err
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("submission never reached document generation")
	}

	_, err = svc.Prev(ctx, v.ID, staff)
	assert.ErrorIs(t, err, draft.ErrAlreadySubmitting)

	close(release)
	require.NoError(t, <-done)

	_, err = svc.Prev(ctx, v.ID, staff)
	assert.ErrorIs(t, err, draft.ErrNotFound)
	_, err = svc.Complete(ctx, v.ID, staff)
	assert.ErrorIs(t, err, draft.ErrNotFound)

	apps, err := ds.Applications().List(ctx, dataservice.Query{})
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}
