// Package portal serves the authenticated customer portal: the dashboard,
// property and protest pages, evidence uploads, generated documents,
// billing, account settings, adding a property and refer-a-friend.
//
// Every operation is scoped to the caller's user id. Rows owned by someone
// else are reported as not found.
package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/storage"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// ErrNotFound is returned for missing rows and rows owned by another user.
var ErrNotFound = dataservice.ErrNotFound

// Submitter runs the enrollment pipeline for add-property.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

// Service implements the portal's operations.
type Service struct {
	ds        dataservice.DataService
	buckets   storage.Buckets
	activity  activity.Store
	referrals *referral.Service
	submit    Submitter
	rec       event.Recorder
	log       *zap.Logger
	maxUpload int64
}

// Config bundles the Service's collaborators.
type Config struct {
	DataService dataservice.DataService
	Buckets     storage.Buckets
	Activity    activity.Store
	Referrals   *referral.Service
	Submitter   Submitter
	Recorder    event.Recorder
	Logger      *zap.Logger
	// MaxUploadBytes caps one evidence file. Zero means DefaultMaxUpload.
	MaxUploadBytes int64
}

// DefaultMaxUpload is the evidence size cap when none is configured.
const DefaultMaxUpload = 25 << 20

// NewService creates a Service.
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = event.Discard{}
	}
	max := cfg.MaxUploadBytes
	if max <= 0 {
		max = DefaultMaxUpload
	}
	return &Service{
		ds:        cfg.DataService,
		buckets:   cfg.Buckets,
		activity:  cfg.Activity,
		referrals: cfg.Referrals,
		submit:    cfg.Submitter,
		rec:       rec,
		log:       log.Named("portal"),
		maxUpload: max,
	}
}

// PropertySummary is one property card on the dashboard.
type PropertySummary struct {
	types.Property
	LatestProtest *types.Protest `json:"latest_protest"`
	EvidenceCount int            `json:"evidence_count"`
}

// Dashboard is the portal landing page.
type Dashboard struct {
	Profile     types.Profile            `json:"profile"`
	Properties  []PropertySummary        `json:"properties"`
	Documents   []types.CustomerDocument `json:"documents"`
	OpenBills   []types.Bill             `json:"open_bills"`
	OpenBalance types.Money              `json:"open_balance"`
}

// Dashboard aggregates everything the landing page shows for userID.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	profile, err := s.ds.Profiles().Get(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("loading profile: %w", err)
	}
	props, err := s.ds.Properties().List(ctx, dataservice.Where("user_id", userID).Newest())
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing properties: %w", err)
	}

	summaries := make([]PropertySummary, 0, len(props))
	for _, p := range props {
		sum := PropertySummary{Property: p}
		protests, err := s.ds.Protests().List(ctx, dataservice.Where("property_id", p.ID).Newest())
		if err != nil {
			return Dashboard{}, fmt.Errorf("listing protests: %w", err)
		}
		if len(protests) > 0 {
			sum.LatestProtest = &protests[0]
		}
		evidence, err := s.ds.EvidenceUploads().List(ctx, dataservice.Where("property_id", p.ID))
		if err != nil {
			return Dashboard{}, fmt.Errorf("listing evidence: %w", err)
		}
		sum.EvidenceCount = len(evidence)
		summaries = append(summaries, sum)
	}

	docs, err := s.ds.Documents().List(ctx, dataservice.Where("user_id", userID).Newest())
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing documents: %w", err)
	}
	bills, err := s.ds.Bills().List(ctx, dataservice.Where("user_id", userID).And("status", "open"))
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing bills: %w", err)
	}
	return Dashboard{
		Profile:     profile,
		Properties:  summaries,
		Documents:   lo.Ternary(docs == nil, []types.CustomerDocument{}, docs),
		OpenBills:   lo.Ternary(bills == nil, []types.Bill{}, bills),
		OpenBalance: balance(bills),
	}, nil
}

func balance(bills []types.Bill) types.Money {
	total := types.Money{Currency: "USD"}
	for _, b := range bills {
		total.AmountCents += b.Amount.AmountCents
		if b.Amount.Currency != "" {
			total.Currency = b.Amount.Currency
		}
	}
	return total
}

// Properties lists the caller's properties, newest first.
func (s *Service) Properties(ctx context.Context, userID string) ([]types.Property, error) {
	props, err := s.ds.Properties().List(ctx, dataservice.Where("user_id", userID).Newest())
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	return props, nil
}

// PropertyDetail is the property page.
type PropertyDetail struct {
	Property     types.Property           `json:"property"`
	Owner        *types.Owner             `json:"owner"`
	Applications []types.Application      `json:"applications"`
	Protests     []types.Protest          `json:"protests"`
	Evidence     []types.EvidenceUpload   `json:"evidence"`
	Documents    []types.CustomerDocument `json:"documents"`
}

func (s *Service) ownedProperty(ctx context.Context, userID, propertyID string) (types.Property, error) {
	p, err := s.ds.Properties().Get(ctx, propertyID)
	if err != nil {
		return types.Property{}, err
	}
	if p.UserID != userID {
		return types.Property{}, fmt.Errorf("%w: property %s", ErrNotFound, propertyID)
	}
	return p, nil
}

// Property returns the property page for one of the caller's properties.
func (s *Service) Property(ctx context.Context, userID, propertyID string) (PropertyDetail, error) {
	p, err := s.ownedProperty(ctx, userID, propertyID)
	if err != nil {
		return PropertyDetail{}, err
	}
	out := PropertyDetail{Property: p}
	if p.OwnerID != "" {
		o, err := s.ds.Owners().Get(ctx, p.OwnerID)
		switch {
		case err == nil:
			out.Owner = &o
		case !errors.Is(err, dataservice.ErrNotFound):
			return PropertyDetail{}, fmt.Errorf("loading owner: %w", err)
		}
	}
	byProperty := dataservice.Where("property_id", p.ID).Newest()
	if out.Applications, err = s.ds.Applications().List(ctx, byProperty); err != nil {
		return PropertyDetail{}, fmt.Errorf("listing applications: %w", err)
	}
	if out.Protests, err = s.ds.Protests().List(ctx, byProperty); err != nil {
		return PropertyDetail{}, fmt.Errorf("listing protests: %w", err)
	}
	if out.Evidence, err = s.ds.EvidenceUploads().List(ctx, byProperty); err != nil {
		return PropertyDetail{}, fmt.Errorf("listing evidence: %w", err)
	}
	if out.Documents, err = s.ds.Documents().List(ctx, byProperty); err != nil {
		return PropertyDetail{}, fmt.Errorf("listing documents: %w", err)
	}
	return out, nil
}

// ProtestDetail is the protest page.
type ProtestDetail struct {
	Protest  types.Protest          `json:"protest"`
	Property types.Property         `json:"property"`
	Evidence []types.EvidenceUpload `json:"evidence"`
}

// Protest returns one of the caller's protests with its evidence.
func (s *Service) Protest(ctx context.Context, userID, protestID string) (ProtestDetail, error) {
	pr, err := s.ds.Protests().Get(ctx, protestID)
	if err != nil {
		return ProtestDetail{}, err
	}
	p, err := s.ownedProperty(ctx, userID, pr.PropertyID)
	if err != nil {
		return ProtestDetail{}, err
	}
	evidence, err := s.ds.EvidenceUploads().List(ctx, dataservice.Where("property_id", p.ID).Newest())
	if err != nil {
		return ProtestDetail{}, fmt.Errorf("listing evidence: %w", err)
	}
	// Evidence not tied to a protest counts toward every protest on the property.
	evidence = lo.Filter(evidence, func(e types.EvidenceUpload, _ int) bool {
		return e.ProtestID == nil || *e.ProtestID == pr.ID
	})
	return ProtestDetail{Protest: pr, Property: p, Evidence: evidence}, nil
}

// Activity returns the property's activity stream.
func (s *Service) Activity(ctx context.Context, userID, propertyID string, opts activity.QueryOptions) ([]types.ActivityEntry, string, int, error) {
	if _, err := s.ownedProperty(ctx, userID, propertyID); err != nil {
		return nil, "", 0, err
	}
	if s.activity == nil {
		return nil, "", 0, nil
	}
	return s.activity.QueryByEntity(ctx, "property", propertyID, opts)
}

// Billing is the billing page.
type Billing struct {
	Bills       []types.Bill    `json:"bills"`
	Invoices    []types.Invoice `json:"invoices"`
	OpenBalance types.Money     `json:"open_balance"`
}

// Billing lists the caller's bills and invoices.
func (s *Service) Billing(ctx context.Context, userID string) (Billing, error) {
	byUser := dataservice.Where("user_id", userID).Newest()
	bills, err := s.ds.Bills().List(ctx, byUser)
	if err != nil {
		return Billing{}, fmt.Errorf("listing bills: %w", err)
	}
	invoices, err := s.ds.Invoices().List(ctx, byUser)
	if err != nil {
		return Billing{}, fmt.Errorf("listing invoices: %w", err)
	}
	open := lo.Filter(bills, func(b types.Bill, _ int) bool { return b.Status == "open" })
	return Billing{Bills: bills, Invoices: invoices, OpenBalance: balance(open)}, nil
}
