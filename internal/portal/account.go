package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

// ErrAccountExists is returned by SetupAccount when the email already has a
// profile.
var ErrAccountExists = errors.New("portal: account already exists")

var accountSchema = validate.MustCompile(`
#Account: {
	first_name?: string & !=""
	last_name?:  string & !=""
	phone?:      =~#"^\+?[0-9 ().-]{7,20}$"#
}

#Setup: {
	email:      =~#"^[^@\s]+@[^@\s]+\.[^@\s]+$"#
	first_name: string & !=""
	last_name:  string & !=""
	phone?:     =~#"^\+?[0-9 ().-]{7,20}$"#
}
`)

// Account returns the caller's profile.
func (s *Service) Account(ctx context.Context, userID string) (types.Profile, error) {
	return s.ds.Profiles().Get(ctx, userID)
}

// AccountPatch updates profile fields. Nil fields are left unchanged.
type AccountPatch struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// UpdateAccount applies p to the caller's profile.
func (s *Service) UpdateAccount(ctx context.Context, userID string, p AccountPatch) (types.Profile, error) {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	p.FirstName, p.LastName, p.Phone = trim(p.FirstName), trim(p.LastName), trim(p.Phone)
	check := p
	if check.Phone != nil && *check.Phone == "" {
		check.Phone = nil
	}
	if err := accountSchema.Check("#Account", check); err != nil {
		return types.Profile{}, err
	}

	profile, err := s.ds.Profiles().Get(ctx, userID)
	if err != nil {
		return types.Profile{}, err
	}
	if p.FirstName != nil {
		profile.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		profile.LastName = *p.LastName
	}
	if p.Phone != nil {
		profile.Phone = *p.Phone
	}
	return s.ds.Profiles().Update(ctx, profile)
}

// SetupInput creates a profile for an email proven by a portal link.
type SetupInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// SetupAccount creates the profile for a verified email. Owners enrolled
// under the email are linked to the new profile.
func (s *Service) SetupAccount(ctx context.Context, in SetupInput) (types.Profile, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := accountSchema.Check("#Setup", in); err != nil {
		return types.Profile{}, err
	}

	_, err := dataservice.First(ctx, s.ds.Profiles(), dataservice.Where("email", in.Email))
	if err == nil {
		return types.Profile{}, ErrAccountExists
	}
	if !errors.Is(err, dataservice.ErrNotFound) {
		return types.Profile{}, fmt.Errorf("looking up profile: %w", err)
	}

	profile, err := s.ds.Profiles().Create(ctx, types.Profile{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         "customer",
		ReferralCode: referral.NewCode(),
	})
	if err != nil {
		return types.Profile{}, fmt.Errorf("creating profile: %w", err)
	}

	owners, err := s.ds.Owners().List(ctx, dataservice.Where("email", in.Email))
	if err != nil {
		return profile, fmt.Errorf("linking owners: %w", err)
	}
	for _, o := range owners {
		if o.UserID != "" {
			continue
		}
		o.UserID = profile.ID
		if _, err := s.ds.Owners().Update(ctx, o); err != nil {
			s.log.Warn("linking owner to profile", zap.String("owner_id", o.ID), zap.Error(err))
		}
	}
	s.log.Info("account set up", zap.String("user_id", profile.ID))
	return profile, nil
}

// AddPropertyInput enrolls another property for an existing customer.
type AddPropertyInput struct {
	Property  intake.AddressInput `json:"property"`
	Signature intake.ReviewInput  `json:"signature"`
	TaxYear   int                 `json:"tax_year,omitempty"`
}

// AddProperty runs the enrollment pipeline for one more property owned by
// the caller, reusing the caller's owner record.
func (s *Service) AddProperty(ctx context.Context, userID string, in AddPropertyInput) (submission.Result, error) {
	profile, err := s.ds.Profiles().Get(ctx, userID)
	if err != nil {
		return submission.Result{}, fmt.Errorf("loading profile: %w", err)
	}
	place, err := intake.CheckAddress(in.Property)
	if err != nil {
		return submission.Result{}, err
	}
	sig, err := intake.CheckReview(in.Signature)
	if err != nil {
		return submission.Result{}, err
	}

	owner := submission.OwnerInput{
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Email:     profile.Email,
		Phone:     profile.Phone,
		Role:      "owner",
	}
	if o, err := dataservice.First(ctx, s.ds.Owners(), dataservice.Where("email", profile.Email)); err == nil {
		owner.FirstName, owner.LastName = o.FirstName, o.LastName
		owner.IsEntity = o.IsEntity
		owner.EntityName = lo.FromPtr(o.EntityName)
		owner.EntityRelationship = lo.FromPtr(o.EntityRelationship)
		owner.EntityType = lo.FromPtr(o.EntityType)
	}

	return s.submit.Submit(ctx, submission.Request{
		Channel:         submission.ChannelPortal,
		SubmittedBy:     "self",
		UserID:          profile.ID,
		Owner:           owner,
		Place:           place,
		Signature:       sig,
		SignatureMode:   in.Signature.SignatureMode,
		IsOwnerVerified: in.Signature.IsOwnerVerified,
		TaxYear:         in.TaxYear,
	})
}

// Referrals is the refer-a-friend page.
type Referrals struct {
	Code      string           `json:"code"`
	Referrals []types.Referral `json:"referrals"`
	Summary   referral.Summary `json:"summary"`
}

// Referrals lists the caller's invitations.
func (s *Service) Referrals(ctx context.Context, userID string) (Referrals, error) {
	profile, err := s.ds.Profiles().Get(ctx, userID)
	if err != nil {
		return Referrals{}, fmt.Errorf("loading profile: %w", err)
	}
	refs, err := s.referrals.List(ctx, profile.ReferralCode)
	if err != nil {
		return Referrals{}, fmt.Errorf("listing referrals: %w", err)
	}
	return Referrals{Code: profile.ReferralCode, Referrals: refs, Summary: referral.Summarize(refs)}, nil
}

// InviteInput names a friend to invite.
type InviteInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Invite records an invitation from the caller.
func (s *Service) Invite(ctx context.Context, userID string, in InviteInput) (types.Referral, error) {
	profile, err := s.ds.Profiles().Get(ctx, userID)
	if err != nil {
		return types.Referral{}, fmt.Errorf("loading profile: %w", err)
	}
	return s.referrals.Invite(ctx, profile, in.Name, in.Email)
}
