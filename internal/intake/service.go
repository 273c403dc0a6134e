package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/draft"
	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

// ErrStepMismatch is returned when input is posted for a step other than
// the one the draft is on.
var ErrStepMismatch = errors.New("intake: step is not current")

// StepMismatchError names the step the draft expected.
type StepMismatchError struct {
	Current string
	Got     string
}

func (e *StepMismatchError) Error() string {
	return fmt.Sprintf("intake: draft is on step %q, not %q", e.Current, e.Got)
}

func (e *StepMismatchError) Is(target error) bool { return target == ErrStepMismatch }

// Submitter runs a completed request through the enrollment pipeline.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

// PortalLinker mints the token that lets a new customer open the portal
// without a password.
type PortalLinker interface {
	PortalToken(email string) string
}

// View is what the client renders for a draft.
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
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Completion is returned once a draft has been submitted.
type Completion struct {
	submission.Result
	Email       string `json:"email"`
	PortalToken string `json:"portal_token,omitempty"`
}

// Service drives intake drafts through the funnel.
type Service struct {
	drafts *draft.Store[FormData, Patch]
	steps  map[string]Step
	order  []string
	submit Submitter
	links  PortalLinker
	log    *zap.Logger
}

// DefaultTTL is how long an untouched draft survives.
const DefaultTTL = 24 * time.Hour

// NewService creates a Service storing drafts in sessions.
func NewService(sessions session.Store, submit Submitter, links PortalLinker, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	steps := Steps()
	return &Service{
		drafts: draft.NewStore[FormData, Patch](sessions, "intake:", ttl, Merge),
		steps:  lo.KeyBy(steps, func(s Step) string { return s.Name() }),
		order:  lo.Map(steps, func(s Step, _ int) string { return s.Name() }),
		submit: submit,
		links:  links,
		log:    log.Named("intake"),
	}
}

func (s *Service) newWizard(data FormData) *wizard.Wizard[FormData, Patch] {
	return wizard.New[FormData, Patch](s.order, data, Merge, false)
}

// Start opens a draft. A prefill that already carries a resolved place
// skips the address step.
func (s *Service) Start(ctx context.Context, p Prefill) (View, error) {
	w := s.newWizard(Merge(NewFormData(), p.Patch()))
	if p.Resolved() {
		if _, err := w.Goto(StepSavings); err != nil {
			return View{}, err
		}
		w.Settle()
	}
	d, err := s.drafts.Create(ctx, w, "")
	if err != nil {
		return View{}, err
	}
	s.log.Info("intake started",
		zap.String("draft_id", d.ID),
		zap.String("step", w.Current()),
		zap.Bool("prefilled", p.Resolved()))
	return s.view(d, w), nil
}

// Get returns the draft's current view.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	d, w, err := s.drafts.Load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(d, w), nil
}

// Step validates input for the named step, merges it and moves forward. On
// the last step the draft stays put and becomes ready to complete.
func (s *Service) Step(ctx context.Context, id, name string, input json.RawMessage) (View, error) {
	d, w, err := s.drafts.Load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if d.Submitting {
		return View{}, draft.ErrAlreadySubmitting
	}
	if w.Current() != name {
		return View{}, &StepMismatchError{Current: w.Current(), Got: name}
	}
	patch, err := s.steps[name].Submit(w.Data(), input)
	if err != nil {
		return View{}, err
	}
	w.Update(patch)
	w.Next()
	w.Settle()
	if err := s.drafts.Save(ctx, d, w); err != nil {
		return View{}, err
	}
	return s.view(d, w), nil
}

// Prev moves the draft back one step without changing its data.
func (s *Service) Prev(ctx context.Context, id string) (View, error) {
	d, w, err := s.drafts.Load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if w.Prev() {
		w.Settle()
		if err := s.drafts.Save(ctx, d, w); err != nil {
			return View{}, err
		}
	}
	return s.view(d, w), nil
}

// Complete submits the draft. The draft is deleted on success and kept for
// retry on failure. Concurrent calls for one draft fail with
// draft.ErrAlreadySubmitting.
func (s *Service) Complete(ctx context.Context, id string) (Completion, error) {
	d, w, finish, err := s.drafts.Begin(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	ok := false
	defer func() { finish(ok) }()

	data := w.Data()
	if missing := data.Missing(); len(missing) > 0 {
		return Completion{}, &submission.PrerequisiteError{Missing: missing}
	}

	res, err := s.submit.Submit(ctx, data.Request())
	if err != nil {
		s.log.Warn("intake submission failed", zap.String("draft_id", d.ID), zap.Error(err))
		return Completion{}, err
	}
	ok = true

	out := Completion{Result: res, Email: data.Email}
	if s.links != nil {
		out.PortalToken = s.links.PortalToken(data.Email)
	}
	s.log.Info("intake completed",
		zap.String("draft_id", d.ID),
		zap.String("property_id", res.PropertyID),
		zap.String("protest_id", res.ProtestID))
	return out, nil
}

// Discard deletes a draft.
func (s *Service) Discard(ctx context.Context, id string) error {
	return s.drafts.Delete(ctx, id)
}

func (s *Service) view(d *draft.Draft[FormData], w *wizard.Wizard[FormData, Patch]) View {
	data := w.Data()
	return View{
		ID:          d.ID,
		Step:        w.Current(),
		Index:       w.Index(),
		Steps:       s.order,
		Phase:       w.Phase(),
		IsLast:      w.IsLast(),
		Form:        s.steps[w.Current()].Seed(data),
		Data:        data,
		Missing:     data.Missing(),
		Submittable: data.Submittable(),
		UpdatedAt:   d.UpdatedAt,
	}
}
