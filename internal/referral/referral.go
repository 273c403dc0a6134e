// Package referral tracks refer-a-friend invitations and attributes new
// enrollments to the customer whose code brought them in.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

// Referral statuses.
const (
	StatusPending  = "pending"
	StatusEnrolled = "enrolled"
	StatusRewarded = "rewarded"
)

var (
	// ErrSelfReferral is returned when a customer invites their own email.
	ErrSelfReferral = errors.New("referral: cannot refer yourself")
	// ErrDuplicate is returned when the invitee already has a pending invitation
	// from the same referrer.
	ErrDuplicate = errors.New("referral: invitation already pending")
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random 8-character referral code.
func NewCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// NormalizeCode upper-cases and trims a code taken from a query parameter.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var inviteSchema = validate.MustCompile(`
#Invite: {
	referred_email: =~#"^[^@\s]+@[^@\s]+\.[^@\s]+$"#
	referred_name?: string
}
`)

// Attribution is what an enrollment carries about how the customer arrived.
type Attribution struct {
	Code       string
	Source     string // utm_source
	Email      string
	Name       string
	PropertyID string
}

// Summary counts a referrer's invitations by status.
type Summary struct {
	Pending  int `json:"pending"`
	Enrolled int `json:"enrolled"`
	Rewarded int `json:"rewarded"`
}

// Service records invitations and attributions.
type Service struct {
	ds dataservice.DataService
}

func NewService(ds dataservice.DataService) *Service {
	return &Service{ds: ds}
}

// Invite records a pending invitation from referrer to email.
func (s *Service) Invite(ctx context.Context, referrer types.Profile, name, email string) (types.Referral, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	in := struct {
		Email string `json:"referred_email"`
		Name  string `json:"referred_name,omitempty"`
	}{email, strings.TrimSpace(name)}
	if err := inviteSchema.Check("#Invite", in); err != nil {
		return types.Referral{}, err
	}
	if email == strings.ToLower(referrer.Email) {
		return types.Referral{}, ErrSelfReferral
	}

	existing, err := s.ds.Referrals().List(ctx, dataservice.Where("referrer_code", referrer.ReferralCode).
		And("referred_email", email).
		And("status", StatusPending))
	if err != nil {
		return types.Referral{}, fmt.Errorf("checking invitations: %w", err)
	}
	if len(existing) > 0 {
		return types.Referral{}, ErrDuplicate
	}

	return s.ds.Referrals().Create(ctx, types.Referral{
		ReferrerCode:  referrer.ReferralCode,
		ReferredName:  in.Name,
		ReferredEmail: email,
		Source:        "refer-a-friend",
		Status:        StatusPending,
	})
}

// List returns a referrer's invitations, newest first.
func (s *Service) List(ctx context.Context, code string) ([]types.Referral, error) {
	return s.ds.Referrals().List(ctx, dataservice.Where("referrer_code", code).Newest())
}

// Summarize counts referrals by status.
func Summarize(refs []types.Referral) Summary {
	byStatus := lo.GroupBy(refs, func(r types.Referral) string { return r.Status })
	return Summary{
		Pending:  len(byStatus[StatusPending]),
		Enrolled: len(byStatus[StatusEnrolled]),
		Rewarded: len(byStatus[StatusRewarded]),
	}
}

// Attribute credits an enrollment. A pending invitation for the customer's
// email is marked enrolled; otherwise a known code creates an enrolled
// referral. Unknown codes and self-referrals are ignored, reported by ok=false.
func (s *Service) Attribute(ctx context.Context, a Attribution) (ref types.Referral, ok bool, err error) {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	code := NormalizeCode(a.Code)
	var propertyID *string
	if a.PropertyID != "" {
		propertyID = &a.PropertyID
	}

	pending, err := dataservice.First(ctx, s.ds.Referrals(),
		dataservice.Where("referred_email", email).And("status", StatusPending).Newest())
	switch {
	case err == nil:
		pending.Status = StatusEnrolled
		pending.PropertyID = propertyID
		if a.Source != "" {
			pending.Source = a.Source
		}
		updated, err := s.ds.Referrals().Update(ctx, pending)
		if err != nil {
			return types.Referral{}, false, fmt.Errorf("enrolling invitation: %w", err)
		}
		return updated, true, nil
	case !errors.Is(err, dataservice.ErrNotFound):
		return types.Referral{}, false, fmt.Errorf("finding invitation: %w", err)
	}

	if code == "" {
		return types.Referral{}, false, nil
	}
	referrer, err := dataservice.First(ctx, s.ds.Profiles(), dataservice.Where("referral_code", code))
	if errors.Is(err, dataservice.ErrNotFound) {
		return types.Referral{}, false, nil
	}
	if err != nil {
		return types.Referral{}, false, fmt.Errorf("finding referrer: %w", err)
	}
	if strings.EqualFold(referrer.Email, email) {
		return types.Referral{}, false, nil
	}

	created, err := s.ds.Referrals().Create(ctx, types.Referral{
		ReferrerCode:  code,
		ReferredName:  a.Name,
		ReferredEmail: email,
		Source:        a.Source,
		PropertyID:    propertyID,
		Status:        StatusEnrolled,
	})
	if err != nil {
		return types.Referral{}, false, fmt.Errorf("recording referral: %w", err)
	}
	return created, true, nil
}
