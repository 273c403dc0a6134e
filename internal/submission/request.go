package submission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// Channels an application can arrive through.
const (
	ChannelPublic    = "public"
	ChannelConcierge = "concierge"
	ChannelPortal    = "portal"
)

// ErrMissingPrerequisite is returned before any backend call when the request
// lacks something the pipeline cannot proceed without.
var ErrMissingPrerequisite = errors.New("submission: missing prerequisite")

// PrerequisiteError lists the missing fields.
type PrerequisiteError struct {
	Missing []string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingPrerequisite, strings.Join(e.Missing, ", "))
}

func (e *PrerequisiteError) Is(target error) bool { return target == ErrMissingPrerequisite }

// OwnerInput identifies the legal owner. The entity fields are only used when
// IsEntity is set.
type OwnerInput struct {
	FirstName          string
	LastName           string
	Email              string
	Phone              string
	Role               string
	IsEntity           bool
	EntityName         string
	EntityRelationship string
	EntityType         string
}

// Request is a completed form, normalised across the public funnel, the
// concierge wizard and the portal's add-property flow.
type Request struct {
	Channel     string
	SubmittedBy string // "self" or the staff id that ran the concierge wizard
	// UserID is the customer's account when already known. Empty means the
	// account is looked up by email or created.
	UserID string

	Owner           OwnerInput
	Place           types.PlaceData
	Signature       string
	SignatureMode   string
	IsOwnerVerified bool
	UpdatesOptIn    bool
	TaxYear         int

	ReferralCode string
	UTMSource    string
}

// Precheck reports every missing prerequisite of req.
func Precheck(req Request) error {
	var missing []string
	if !req.Place.Resolved() {
		missing = append(missing, "place_id")
	}
	if strings.TrimSpace(req.Place.FormattedAddress) == "" {
		missing = append(missing, "formatted_address")
	}
	if strings.TrimSpace(req.Owner.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(req.Owner.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if strings.TrimSpace(req.Owner.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if req.Owner.IsEntity {
		if req.Owner.EntityName == "" {
			missing = append(missing, "entity_name")
		}
		if req.Owner.EntityRelationship == "" {
			missing = append(missing, "entity_relationship")
		}
		if req.Owner.EntityType == "" {
			missing = append(missing, "entity_type")
		}
	}
	if !signature.Present(req.Signature) {
		missing = append(missing, "signature")
	}
	if !req.IsOwnerVerified {
		missing = append(missing, "is_owner_verified")
	}
	if len(missing) > 0 {
		return &PrerequisiteError{Missing: missing}
	}
	return nil
}
