package concierge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/draft"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

var (
	// ErrNotOnCustomerStep is returned when a search or create-new is
	// attempted after the customer step.
	ErrNotOnCustomerStep = errors.New("concierge: customer lookup is only available on the customer step")
	// ErrStaffRequired is returned when no staff id accompanies a request.
	ErrStaffRequired = errors.New("concierge: staff id required")
)

// Wizard is the concierge step machine.
type Wizard = wizard.Wizard[FormData, Patch]

// Match is one customer found by email.
type Match struct {
	UserID     string `json:"user_id"`
	OwnerID    string `json:"owner_id,omitempty"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone,omitempty"`
	IsEntity   bool   `json:"is_entity"`
	EntityName string `json:"entity_name,omitempty"`
	Properties int    `json:"properties"`
}

// SearchResult lists matches for an email. CreateNew is set when nothing
// matched and the wizard should offer to start a new customer.
type SearchResult struct {
	Email     string  `json:"email"`
	Matches   []Match `json:"matches"`
	CreateNew bool    `json:"create_new"`
}

// View is what the staff client renders for a draft.
type View struct {
	ID          string       `json:"id"`
	Step        string       `json:"step"`
	Index       int          `json:"index"`
	Steps       []string     `json:"steps"`
	Phase       wizard.Phase `json:"phase"`
	IsLast      bool         `json:"is_last"`
	Form        any          `json:"form"`
	Data        FormData     `json:"data"`
	Missing     []string     `json:"missing"`
	Submittable bool         `json:"submittable"`
}

// Completion is returned once a concierge enrollment is submitted.
type Completion struct {
	submission.Result
	Email string `json:"email"`
}

// Submitter runs the enrollment pipeline.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

// Service drives concierge wizards, either persisted as drafts for the HTTP
// API or held live by a WebSocket session.
type Service struct {
	ds     dataservice.DataService
	drafts *draft.Store[FormData, Patch]
	steps  map[string]Step
	order  []string
	submit Submitter
	log    *zap.Logger
}

// NewService creates a Service.
func NewService(ds dataservice.DataService, sessions session.Store, submit Submitter, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	steps := Steps()
	return &Service{
		ds:     ds,
		drafts: draft.NewStore[FormData, Patch](sessions, "concierge:", ttl, Merge),
		steps:  lo.KeyBy(steps, func(s Step) string { return s.Name() }),
		order:  lo.Map(steps, func(s Step, _ int) string { return s.Name() }),
		submit: submit,
		log:    log.Named("concierge"),
	}
}

// NewWizard creates a wizard run by staffID. Animated wizards leave phase
// advancement to the caller.
func (s *Service) NewWizard(staffID string, animated bool) *Wizard {
	return wizard.New[FormData, Patch](s.order, NewFormData(staffID), Merge, animated)
}

// Describe renders w for a client.
func (s *Service) Describe(id string, w *Wizard) View {
	data := w.Data()
	return View{
		ID:          id,
		Step:        w.Current(),
		Index:       w.Index(),
		Steps:       s.order,
		Phase:       w.Phase(),
		IsLast:      w.IsLast(),
		Form:        s.steps[w.Current()].Seed(data),
		Data:        data,
		Missing:     data.Missing(),
		Submittable: data.Submittable(),
	}
}

// Search looks customers up by email and records the search on w. A unique
// match is selected and seeds the personal info step.
func (s *Service) Search(ctx context.Context, w *Wizard, email string) (SearchResult, error) {
	if w.Current() != StepCustomer {
		return SearchResult{}, ErrNotOnCustomerStep
	}
	in := struct {
		SearchEmail string `json:"search_email,omitempty"`
	}{strings.ToLower(strings.TrimSpace(email))}
	if err := schema.Check("#Search", in); err != nil {
		return SearchResult{}, err
	}

	matches, err := s.lookup(ctx, in.SearchEmail)
	if err != nil {
		return SearchResult{}, err
	}
	w.Update(Patch{SearchEmail: &in.SearchEmail})

	res := SearchResult{Email: in.SearchEmail, Matches: matches, CreateNew: len(matches) == 0}
	if len(matches) == 1 {
		w.Update(Combine(Patch{
			CustomerMode:   wizard.Set(ModeExisting),
			ExistingUserID: &matches[0].UserID,
		}, s.seedFromMatch(ctx, matches[0])))
	}
	s.log.Info("customer search",
		zap.String("staff_id", w.Data().StaffID),
		zap.Int("matches", len(matches)))
	return res, nil
}

func (s *Service) lookup(ctx context.Context, email string) ([]Match, error) {
	profiles, err := s.ds.Profiles().List(ctx, dataservice.Where("email", email))
	if err != nil {
		return nil, fmt.Errorf("searching profiles: %w", err)
	}
	owners, err := s.ds.Owners().List(ctx, dataservice.Where("email", email))
	if err != nil {
		return nil, fmt.Errorf("searching owners: %w", err)
	}
	if len(profiles) == 0 {
		// Owners enrolled before profiles existed still count as customers.
		profiles = lo.FilterMap(owners, func(o types.Owner, _ int) (types.Profile, bool) {
			return types.Profile{ID: o.UserID, Email: o.Email, FirstName: o.FirstName, LastName: o.LastName, Phone: o.Phone}, o.UserID != ""
		})
		profiles = lo.UniqBy(profiles, func(p types.Profile) string { return p.ID })
	}

	matches := make([]Match, 0, len(profiles))
	for _, p := range profiles {
		m := Match{UserID: p.ID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName, Phone: p.Phone}
		if o, ok := lo.Find(owners, func(o types.Owner) bool { return o.UserID == p.ID }); ok {
			m.OwnerID = o.ID
			m.IsEntity = o.IsEntity
			m.EntityName = lo.FromPtr(o.EntityName)
		}
		props, err := s.ds.Properties().List(ctx, dataservice.Where("user_id", p.ID))
		if err != nil {
			return nil, fmt.Errorf("counting properties: %w", err)
		}
		m.Properties = len(props)
		matches = append(matches, m)
	}
	return matches, nil
}

// seedFromMatch builds the personal info patch for an existing customer.
func (s *Service) seedFromMatch(ctx context.Context, m Match) Patch {
	p := Patch{
		FirstName: &m.FirstName,
		LastName:  &m.LastName,
		Email:     &m.Email,
		Phone:     &m.Phone,
	}
	if m.OwnerID == "" {
		return p
	}
	o, err := s.ds.Owners().Get(ctx, m.OwnerID)
	if err != nil {
		s.log.Warn("loading owner for seed", zap.String("owner_id", m.OwnerID), zap.Error(err))
		return p
	}
	p.IsTrustEntity = &o.IsEntity
	p.EntityName = wizard.Set(lo.FromPtr(o.EntityName))
	p.EntityRelationship = wizard.Set(lo.FromPtr(o.EntityRelationship))
	p.EntityType = wizard.Set(lo.FromPtr(o.EntityType))
	if o.Role != "" {
		p.Role = &o.Role
	}
	return p
}

// CreateNew switches w to a new customer and moves to personal info. The
// searched email carries over.
func (s *Service) CreateNew(w *Wizard) error {
	if w.Current() != StepCustomer {
		return ErrNotOnCustomerStep
	}
	d := w.Data()
	p := Patch{CustomerMode: wizard.Set(ModeNew), ExistingUserID: wizard.Set("")}
	if d.SearchEmail != "" && d.Email == "" {
		p.Email = &d.SearchEmail
	}
	w.Update(p)
	if _, err := w.Goto(StepPersonalInfo); err != nil {
		return err
	}
	return nil
}

// Apply validates input for the current step, merges it and moves forward.
func (s *Service) Apply(ctx context.Context, w *Wizard, step string, input json.RawMessage) error {
	if w.Current() != step {
		return &intake.StepMismatchError{Current: w.Current(), Got: step}
	}
	patch, err := s.steps[step].Submit(w.Data(), input)
	if err != nil {
		return err
	}
	if step == StepCustomer && lo.FromPtr(patch.CustomerMode) == ModeExisting {
		seed, err := s.seedExisting(ctx, *patch.ExistingUserID)
		if err != nil {
			return err
		}
		patch = Combine(seed, patch)
	}
	w.Update(patch)
	w.Next()
	return nil
}

func (s *Service) seedExisting(ctx context.Context, userID string) (Patch, error) {
	profile, err := s.ds.Profiles().Get(ctx, userID)
	if errors.Is(err, dataservice.ErrNotFound) {
		return Patch{}, validate.Errors{"existing_user_id": "is not a known customer"}
	}
	if err != nil {
		return Patch{}, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	m := Match{UserID: profile.ID, Email: profile.Email, FirstName: profile.FirstName, LastName: profile.LastName, Phone: profile.Phone}
	if o, err := dataservice.First(ctx, s.ds.Owners(), dataservice.Where("user_id", userID)); err == nil {
		m.OwnerID = o.ID
	}
	return s.seedFromMatch(ctx, m), nil
}

// Submit runs the enrollment for w's data.
func (s *Service) Submit(ctx context.Context, w *Wizard) (Completion, error) {
	data := w.Data()
	if data.StaffID == "" {
		return Completion{}, ErrStaffRequired
	}
	if missing := data.Missing(); len(missing) > 0 {
		return Completion{}, &submission.PrerequisiteError{Missing: missing}
	}
	res, err := s.submit.Submit(ctx, data.Request())
	if err != nil {
		return Completion{}, err
	}
	s.log.Info("concierge enrollment complete",
		zap.String("staff_id", data.StaffID),
		zap.String("customer_mode", data.CustomerMode),
		zap.String("property_id", res.PropertyID))
	return Completion{Result: res, Email: data.Email}, nil
}

// Combine merges two patches, b winning on overlap.
func Combine(a, b Patch) Patch { return wizard.Combine(a, b) }

// ── Draft-backed operations for the HTTP API ────────────────────────────────

// Start opens a draft owned by staffID.
func (s *Service) Start(ctx context.Context, staffID string) (View, error) {
	if staffID == "" {
		return View{}, ErrStaffRequired
	}
	w := s.NewWizard(staffID, false)
	d, err := s.drafts.Create(ctx, w, staffID)
	if err != nil {
		return View{}, err
	}
	return s.Describe(d.ID, w), nil
}

func (s *Service) load(ctx context.Context, id, staffID string) (*draft.Draft[FormData], *Wizard, error) {
	d, w, err := s.drafts.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if d.Owner != staffID {
		return nil, nil, fmt.Errorf("%w: %s", draft.ErrNotFound, id)
	}
	return d, w, nil
}

// mutate loads a draft, applies fn and saves the result.
func (s *Service) mutate(ctx context.Context, id, staffID string, fn func(w *Wizard) error) (View, error) {
	d, w, err := s.load(ctx, id, staffID)
	if err != nil {
		return View{}, err
	}
	if d.Submitting {
		return View{}, draft.ErrAlreadySubmitting
	}
	if err := fn(w); err != nil {
		return View{}, err
	}
	w.Settle()
	if err := s.drafts.Save(ctx, d, w); err != nil {
		return View{}, err
	}
	return s.Describe(d.ID, w), nil
}

// Get returns a draft's view.
func (s *Service) Get(ctx context.Context, id, staffID string) (View, error) {
	d, w, err := s.load(ctx, id, staffID)
	if err != nil {
		return View{}, err
	}
	return s.Describe(d.ID, w), nil
}

// SearchDraft runs Search against a persisted draft.
func (s *Service) SearchDraft(ctx context.Context, id, staffID, email string) (SearchResult, View, error) {
	var res SearchResult
	v, err := s.mutate(ctx, id, staffID, func(w *Wizard) error {
		var err error
		res, err = s.Search(ctx, w, email)
		return err
	})
	return res, v, err
}

// CreateNewDraft runs CreateNew against a persisted draft.
func (s *Service) CreateNewDraft(ctx context.Context, id, staffID string) (View, error) {
	return s.mutate(ctx, id, staffID, s.CreateNew)
}

// Step applies step input to a persisted draft.
func (s *Service) Step(ctx context.Context, id, staffID, step string, input json.RawMessage) (View, error) {
	return s.mutate(ctx, id, staffID, func(w *Wizard) error {
		return s.Apply(ctx, w, step, input)
	})
}

// Prev moves a persisted draft back one step.
func (s *Service) Prev(ctx context.Context, id, staffID string) (View, error) {
	return s.mutate(ctx, id, staffID, func(w *Wizard) error {
		w.Prev()
		return nil
	})
}

// Complete submits a persisted draft, deleting it on success.
func (s *Service) Complete(ctx context.Context, id, staffID string) (Completion, error) {
	d, w, finish, err := s.drafts.Begin(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	ok := false
	defer func() { finish(ok) }()
	if d.Owner != staffID {
		return Completion{}, fmt.Errorf("%w: %s", draft.ErrNotFound, id)
	}
	out, err := s.Submit(ctx, w)
	if err != nil {
		s.log.Warn("concierge submission failed", zap.String("draft_id", id), zap.Error(err))
		return Completion{}, err
	}
	ok = true
	return out, nil
}
