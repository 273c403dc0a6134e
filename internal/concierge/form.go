// Package concierge implements the staff-operated onboarding wizard: look a
// customer up by email (or start a new one), capture personal and property
// details, record how ownership was verified, then sign on the customer's
// behalf.
package concierge

import (
	"strings"

	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

// Customer modes.
const (
	ModeExisting = "existing"
	ModeNew      = "new"
)

// FormData is the record the concierge wizard accumulates.
type FormData struct {
	CustomerMode   string `json:"customer_mode"`
	ExistingUserID string `json:"existing_user_id,omitempty"`
	SearchEmail    string `json:"search_email,omitempty"`

	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	Role               string `json:"role"`
	IsTrustEntity      bool   `json:"is_trust_entity"`
	EntityName         string `json:"entity_name,omitempty"`
	EntityRelationship string `json:"entity_relationship,omitempty"`
	EntityType         string `json:"entity_type,omitempty"`

	PlaceID          string  `json:"place_id"`
	FormattedAddress string  `json:"formatted_address"`
	Street           string  `json:"street,omitempty"`
	City             string  `json:"city,omitempty"`
	State            string  `json:"state,omitempty"`
	Zip              string  `json:"zip,omitempty"`
	County           string  `json:"county,omitempty"`
	Latitude         float64 `json:"latitude,omitempty"`
	Longitude        float64 `json:"longitude,omitempty"`

	IsOwnerVerified    bool   `json:"is_owner_verified"`
	VerificationMethod string `json:"verification_method,omitempty"`
	VerificationNotes  string `json:"verification_notes,omitempty"`

	Signature     string `json:"signature,omitempty"`
	SignatureMode string `json:"signature_mode,omitempty"`
	StaffID       string `json:"staff_id"`
}

// Patch is a partial update of FormData.
type Patch struct {
	CustomerMode   *string
	ExistingUserID *string
	SearchEmail    *string

	FirstName          *string
	LastName           *string
	Email              *string
	Phone              *string
	Role               *string
	IsTrustEntity      *bool
	EntityName         *string
	EntityRelationship *string
	EntityType         *string

	PlaceID          *string
	FormattedAddress *string
	Street           *string
	City             *string
	State            *string
	Zip              *string
	County           *string
	Latitude         *float64
	Longitude        *float64

	IsOwnerVerified    *bool
	VerificationMethod *string
	VerificationNotes  *string

	Signature     *string
	SignatureMode *string
	StaffID       *string
}

// Merge applies p to d.
func Merge(d FormData, p Patch) FormData {
	return wizard.Merge(d, p)
}

// NewFormData returns the defaults for a wizard run by staffID.
func NewFormData(staffID string) FormData {
	return FormData{Role: "owner", StaffID: staffID}
}

// Place returns the property's geocoding fields.
func (d FormData) Place() types.PlaceData {
	p := types.PlaceData{
		PlaceID:          d.PlaceID,
		FormattedAddress: d.FormattedAddress,
		Street:           d.Street,
		City:             d.City,
		State:            d.State,
		Zip:              d.Zip,
		County:           d.County,
	}
	if d.Latitude != 0 || d.Longitude != 0 {
		lat, lng := d.Latitude, d.Longitude
		p.Latitude, p.Longitude = &lat, &lng
	}
	return p
}

// Missing lists required fields not yet populated.
func (d FormData) Missing() []string {
	var missing []string
	need := func(field string, ok bool) {
		if !ok {
			missing = append(missing, field)
		}
	}
	need("customer_mode", d.CustomerMode == ModeExisting || d.CustomerMode == ModeNew)
	if d.CustomerMode == ModeExisting {
		need("existing_user_id", d.ExistingUserID != "")
	}
	need("first_name", strings.TrimSpace(d.FirstName) != "")
	need("last_name", strings.TrimSpace(d.LastName) != "")
	need("email", d.Email != "")
	if d.IsTrustEntity {
		need("entity_name", d.EntityName != "")
		need("entity_relationship", d.EntityRelationship != "")
		need("entity_type", d.EntityType != "")
	}
	need("place_id", d.PlaceID != "")
	need("formatted_address", d.FormattedAddress != "")
	need("is_owner_verified", d.IsOwnerVerified)
	need("verification_method", d.VerificationMethod != "")
	need("signature", signature.Present(d.Signature))
	return missing
}

// Submittable reports whether the wizard can be completed.
func (d FormData) Submittable() bool {
	return len(d.Missing()) == 0
}

// Request converts the form into a concierge submission.
func (d FormData) Request() submission.Request {
	owner := submission.OwnerInput{
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Email:     d.Email,
		Phone:     d.Phone,
		Role:      d.Role,
		IsEntity:  d.IsTrustEntity,
	}
	if d.IsTrustEntity {
		owner.EntityName = d.EntityName
		owner.EntityRelationship = d.EntityRelationship
		owner.EntityType = d.EntityType
	}
	req := submission.Request{
		Channel:         submission.ChannelConcierge,
		SubmittedBy:     d.StaffID,
		Owner:           owner,
		Place:           d.Place(),
		Signature:       d.Signature,
		SignatureMode:   d.SignatureMode,
		IsOwnerVerified: d.IsOwnerVerified,
	}
	if d.CustomerMode == ModeExisting {
		req.UserID = d.ExistingUserID
	}
	return req
}
