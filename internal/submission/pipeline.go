// Package submission turns a completed intake form into persisted records:
// account, owner, property, application and protest in that order, followed
// by the two document generation functions.
//
// Each step depends on the ids produced before it, so a failing step aborts
// the rest. Nothing already created is rolled back; the returned *StepError
// names the failed step and the ids that were left behind.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// Step names reported in StepError.
const (
	StepAccount     = "account"
	StepOwner       = "owner"
	StepProperty    = "property"
	StepApplication = "application"
	StepProtest     = "protest"
)

// Created holds the ids produced so far.
type Created struct {
	UserID        string `json:"user_id,omitempty"`
	OwnerID       string `json:"owner_id,omitempty"`
	PropertyID    string `json:"property_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	ProtestID     string `json:"protest_id,omitempty"`
}

// StepError reports which step failed and what it left behind.
type StepError struct {
	Step    string
	Created Created
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("submission failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DocumentOutcome is the settled result of one generation call.
type DocumentOutcome struct {
	Function string `json:"function"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Result is returned on success.
type Result struct {
	Success bool `json:"success"`
	Created
	OwnerCreated bool              `json:"owner_created"`
	Documents    []DocumentOutcome `json:"documents"`
	ReferralID   string            `json:"referral_id,omitempty"`
}

// Attributor credits referrals after an enrollment.
type Attributor interface {
	Attribute(ctx context.Context, a referral.Attribution) (types.Referral, bool, error)
}

// Pipeline runs submissions against a DataService.
type Pipeline struct {
	ds          dataservice.DataService
	fn          functions.Invoker
	referrals   Attributor
	rec         event.Recorder
	log         *zap.Logger
	docTimeout  time.Duration
	now         func() time.Time
	newReferral func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReferrals enables referral attribution.
func WithReferrals(a Attributor) Option { return func(p *Pipeline) { p.referrals = a } }

// WithDocumentTimeout bounds the document generation join.
func WithDocumentTimeout(d time.Duration) Option { return func(p *Pipeline) { p.docTimeout = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New creates a Pipeline.
func New(ds dataservice.DataService, fn functions.Invoker, rec event.Recorder, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		ds:          ds,
		fn:          fn,
		rec:         rec,
		log:         log.Named("submission"),
		docTimeout:  30 * time.Second,
		now:         time.Now,
		newReferral: referral.NewCode,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit runs the pipeline for req.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	if err := Precheck(req); err != nil {
		return Result{}, err
	}
	req.Owner.Email = strings.ToLower(strings.TrimSpace(req.Owner.Email))

	var (
		res Result
		err error
	)
	log := p.log.With(zap.String("channel", req.Channel), zap.String("email", req.Owner.Email))

	fail := func(step string, err error) (Result, error) {
		serr := &StepError{Step: step, Created: res.Created, Err: err}
		log.Error("submission step failed", zap.String("step", step), zap.Error(err),
			zap.String("owner_id", res.OwnerID), zap.String("property_id", res.PropertyID))
		event.Best(ctx, p.rec, log, event.NewSubmissionFailed(event.SubmissionFailedPayload{
			Step:          step,
			Channel:       req.Channel,
			Email:         req.Owner.Email,
			OwnerID:       res.OwnerID,
			PropertyID:    res.PropertyID,
			ApplicationID: res.ApplicationID,
			Error:         err.Error(),
		}))
		return Result{}, serr
	}

	if res.UserID, err = p.account(ctx, req); err != nil {
		return fail(StepAccount, err)
	}

	owner, created, err := p.owner(ctx, req, res.UserID)
	if err != nil {
		return fail(StepOwner, err)
	}
	res.OwnerID, res.OwnerCreated = owner.ID, created
	if created {
		event.Best(ctx, p.rec, log, event.NewOwnerCreated(event.OwnerCreatedPayload{
			OwnerID: owner.ID, Email: owner.Email, IsEntity: owner.IsEntity, Channel: req.Channel,
		}))
	}

	prop, err := p.ds.Properties().Create(ctx, types.Property{
		OwnerID:          owner.ID,
		UserID:           res.UserID,
		PlaceID:          req.Place.PlaceID,
		FormattedAddress: req.Place.FormattedAddress,
		Street:           req.Place.Street,
		City:             req.Place.City,
		State:            req.Place.State,
		Zip:              req.Place.Zip,
		County:           req.Place.County,
		Latitude:         req.Place.Latitude,
		Longitude:        req.Place.Longitude,
		Status:           "enrolled",
	})
	if err != nil {
		return fail(StepProperty, err)
	}
	res.PropertyID = prop.ID
	event.Best(ctx, p.rec, log, event.NewPropertyEnrolled(event.PropertyEnrolledPayload{
		PropertyID: prop.ID, OwnerID: owner.ID, PlaceID: prop.PlaceID,
		FormattedAddress: prop.FormattedAddress, County: prop.County, Channel: req.Channel,
	}))

	submittedBy := req.SubmittedBy
	if submittedBy == "" {
		submittedBy = "self"
	}
	app, err := p.ds.Applications().Create(ctx, types.Application{
		OwnerID:         owner.ID,
		PropertyID:      prop.ID,
		UserID:          res.UserID,
		Signature:       req.Signature,
		SignatureMode:   req.SignatureMode,
		IsOwnerVerified: req.IsOwnerVerified,
		UpdatesOptIn:    req.UpdatesOptIn,
		Channel:         req.Channel,
		SubmittedBy:     submittedBy,
		Status:          "submitted",
	})
	if err != nil {
		return fail(StepApplication, err)
	}
	res.ApplicationID = app.ID
	event.Best(ctx, p.rec, log, event.NewApplicationSubmitted(event.ApplicationSubmittedPayload{
		ApplicationID: app.ID, PropertyID: prop.ID, OwnerID: owner.ID,
		SignatureMode: app.SignatureMode, Channel: app.Channel, SubmittedBy: app.SubmittedBy,
	}))

	taxYear := req.TaxYear
	if taxYear == 0 {
		taxYear = p.now().Year()
	}
	protest, err := p.ds.Protests().Create(ctx, types.Protest{
		PropertyID:    prop.ID,
		ApplicationID: app.ID,
		OwnerID:       owner.ID,
		TaxYear:       taxYear,
		Status:        "pending",
	})
	if err != nil {
		return fail(StepProtest, err)
	}
	res.ProtestID = protest.ID
	event.Best(ctx, p.rec, log, event.NewProtestFiled(event.ProtestFiledPayload{
		ProtestID: protest.ID, PropertyID: prop.ID, ApplicationID: app.ID, OwnerID: owner.ID, TaxYear: taxYear,
	}))

	res.Documents = p.documents(ctx, log, res.UserID, prop.ID)
	res.ReferralID = p.attribute(ctx, log, req, prop.ID)
	res.Success = true

	log.Info("submission complete",
		zap.String("property_id", prop.ID),
		zap.String("protest_id", protest.ID),
		zap.Bool("owner_created", created))
	return res, nil
}

// account returns the customer's profile id, creating the profile on first
// enrollment.
func (p *Pipeline) account(ctx context.Context, req Request) (string, error) {
	if req.UserID != "" {
		return req.UserID, nil
	}
	profile, err := dataservice.First(ctx, p.ds.Profiles(), dataservice.Where("email", req.Owner.Email))
	if err == nil {
		return profile.ID, nil
	}
	if !errors.Is(err, dataservice.ErrNotFound) {
		return "", fmt.Errorf("looking up profile: %w", err)
	}
	profile, err = p.ds.Profiles().Create(ctx, types.Profile{
		Email:        req.Owner.Email,
		FirstName:    req.Owner.FirstName,
		LastName:     req.Owner.LastName,
		Phone:        req.Owner.Phone,
		Role:         "customer",
		ReferralCode: p.newReferral(),
	})
	if err != nil {
		return "", fmt.Errorf("creating profile: %w", err)
	}
	return profile.ID, nil
}

// owner looks the owner up by email and creates one when none exists.
func (p *Pipeline) owner(ctx context.Context, req Request, userID string) (types.Owner, bool, error) {
	existing, err := dataservice.First(ctx, p.ds.Owners(), dataservice.Where("email", req.Owner.Email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, dataservice.ErrNotFound) {
		return types.Owner{}, false, fmt.Errorf("looking up owner: %w", err)
	}

	o := types.Owner{
		UserID:    userID,
		FirstName: strings.TrimSpace(req.Owner.FirstName),
		LastName:  strings.TrimSpace(req.Owner.LastName),
		Email:     req.Owner.Email,
		Phone:     req.Owner.Phone,
		Role:      req.Owner.Role,
		IsEntity:  req.Owner.IsEntity,
	}
	if req.Owner.IsEntity {
		o.EntityName = &req.Owner.EntityName
		o.EntityRelationship = &req.Owner.EntityRelationship
		o.EntityType = &req.Owner.EntityType
	}
	created, err := p.ds.Owners().Create(ctx, o)
	if err != nil {
		return types.Owner{}, false, fmt.Errorf("creating owner: %w", err)
	}
	return created, true, nil
}

// documents invokes both generation functions together and waits for both to
// settle. Failures are logged and reported, never retried.
func (p *Pipeline) documents(ctx context.Context, log *zap.Logger, userID, propertyID string) []DocumentOutcome {
	names := []string{functions.GenerateForm50162, functions.GenerateServicesAgreement}
	out := make([]DocumentOutcome, len(names))
	payload := functions.DocumentRequest{UserID: userID, PropertyID: propertyID}

	// Failure events go out on ctx; only the calls are bounded by docTimeout.
	callCtx, cancel := context.WithTimeout(ctx, p.docTimeout)
	defer cancel()

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			out[i] = DocumentOutcome{Function: name, OK: true}
			if _, err := p.fn.Invoke(callCtx, name, payload); err != nil {
				out[i] = DocumentOutcome{Function: name, Error: err.Error()}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range out {
		if o.OK {
			continue
		}
		log.Warn("document generation failed",
			zap.String("function", o.Function),
			zap.String("property_id", propertyID),
			zap.String("error", o.Error))
		event.Best(ctx, p.rec, log, event.NewDocumentGenerationFailed(event.DocumentGenerationFailedPayload{
			Function: o.Function, PropertyID: propertyID, UserID: userID, Error: o.Error,
		}))
	}
	return out
}

func (p *Pipeline) attribute(ctx context.Context, log *zap.Logger, req Request, propertyID string) string {
	if p.referrals == nil {
		return ""
	}
	ref, ok, err := p.referrals.Attribute(ctx, referral.Attribution{
		Code:       req.ReferralCode,
		Source:     req.UTMSource,
		Email:      req.Owner.Email,
		Name:       strings.TrimSpace(req.Owner.FirstName + " " + req.Owner.LastName),
		PropertyID: propertyID,
	})
	if err != nil {
		log.Warn("referral attribution failed", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	event.Best(ctx, p.rec, log, event.NewReferralRecorded(event.ReferralRecordedPayload{
		ReferralID: ref.ID, ReferrerCode: ref.ReferrerCode, ReferredEmail: ref.ReferredEmail,
		PropertyID: propertyID, Source: ref.Source,
	}))
	return ref.ID
}
