package concierge

import (
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

//go:embed steps.cue
var stepsCUE string

var schema = validate.MustCompile(stepsCUE)

// Step names in wizard order.
const (
	StepCustomer     = "customer"
	StepPersonalInfo = "personal-info"
	StepVerification = "verification"
	StepReview       = "review"
)

// Step mirrors intake.Step for the concierge form.
type Step interface {
	Name() string
	Seed(d FormData) any
	Submit(d FormData, input json.RawMessage) (Patch, error)
}

// Steps returns the wizard's steps in order.
func Steps() []Step {
	return []Step{customerStep{}, personalInfoStep{}, verificationStep{}, reviewStep{}}
}

// CustomerInput picks between an existing customer and a new one.
type CustomerInput struct {
	CustomerMode   string `json:"customer_mode,omitempty"`
	ExistingUserID string `json:"existing_user_id,omitempty"`
}

type customerStep struct{}

func (customerStep) Name() string { return StepCustomer }

func (customerStep) Seed(d FormData) any {
	return struct {
		CustomerInput
		SearchEmail string `json:"search_email,omitempty"`
	}{CustomerInput{CustomerMode: d.CustomerMode, ExistingUserID: d.ExistingUserID}, d.SearchEmail}
}

func (customerStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in CustomerInput
	if err := intake.Decode(input, &in); err != nil {
		return Patch{}, err
	}
	in.CustomerMode = strings.TrimSpace(in.CustomerMode)
	in.ExistingUserID = strings.TrimSpace(in.ExistingUserID)
	if err := schema.Check("#Customer", in); err != nil {
		return Patch{}, err
	}
	if in.CustomerMode == ModeNew {
		in.ExistingUserID = ""
	}
	return Patch{CustomerMode: &in.CustomerMode, ExistingUserID: &in.ExistingUserID}, nil
}

// PersonalInput is the owner's identity and contact details plus the
// property being enrolled.
type PersonalInput struct {
	FirstName          string              `json:"first_name,omitempty"`
	LastName           string              `json:"last_name,omitempty"`
	Email              string              `json:"email,omitempty"`
	Phone              string              `json:"phone,omitempty"`
	Role               string              `json:"role,omitempty"`
	IsTrustEntity      bool                `json:"is_trust_entity"`
	EntityName         string              `json:"entity_name,omitempty"`
	EntityRelationship string              `json:"entity_relationship,omitempty"`
	EntityType         string              `json:"entity_type,omitempty"`
	Property           intake.AddressInput `json:"property"`
}

type personalInfoStep struct{}

func (personalInfoStep) Name() string { return StepPersonalInfo }

func (personalInfoStep) Seed(d FormData) any {
	p := d.Place()
	return PersonalInput{
		FirstName:          d.FirstName,
		LastName:           d.LastName,
		Email:              d.Email,
		Phone:              d.Phone,
		Role:               d.Role,
		IsTrustEntity:      d.IsTrustEntity,
		EntityName:         d.EntityName,
		EntityRelationship: d.EntityRelationship,
		EntityType:         d.EntityType,
		Property: intake.AddressInput{
			PlaceID:          p.PlaceID,
			FormattedAddress: p.FormattedAddress,
			Street:           p.Street,
			City:             p.City,
			State:            p.State,
			Zip:              p.Zip,
			County:           p.County,
			Latitude:         p.Latitude,
			Longitude:        p.Longitude,
		},
	}
}

func (personalInfoStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in PersonalInput
	if err := intake.Decode(input, &in); err != nil {
		return Patch{}, err
	}

	errs := validate.Errors{}
	collect := func(err error, prefix string) bool {
		if err == nil {
			return true
		}
		var verr validate.Errors
		if !errors.As(err, &verr) {
			return false
		}
		for f, msg := range verr {
			errs.Add(prefix+f, msg)
		}
		return true
	}

	id, err := intake.CheckIdentity(intake.IdentityInput{
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		Role:               in.Role,
		IsTrustEntity:      in.IsTrustEntity,
		EntityName:         in.EntityName,
		EntityRelationship: in.EntityRelationship,
		EntityType:         in.EntityType,
	})
	if !collect(err, "") {
		return Patch{}, err
	}
	contact, err := intake.CheckContact(intake.ContactInput{Email: in.Email, Phone: in.Phone})
	if !collect(err, "") {
		return Patch{}, err
	}
	place, err := intake.CheckAddress(in.Property)
	if !collect(err, "property.") {
		return Patch{}, err
	}
	if err := errs.OrNil(); err != nil {
		return Patch{}, err
	}

	p := intake.PlacePatch(place)
	return Patch{
		FirstName:          &id.FirstName,
		LastName:           &id.LastName,
		Role:               &id.Role,
		IsTrustEntity:      &id.IsTrustEntity,
		EntityName:         &id.EntityName,
		EntityRelationship: &id.EntityRelationship,
		EntityType:         &id.EntityType,
		Email:              &contact.Email,
		Phone:              &contact.Phone,
		PlaceID:            p.PlaceID,
		FormattedAddress:   p.FormattedAddress,
		Street:             p.Street,
		City:               p.City,
		State:              p.State,
		Zip:                p.Zip,
		County:             p.County,
		Latitude:           p.Latitude,
		Longitude:          p.Longitude,
	}, nil
}

// VerificationInput records how staff confirmed ownership.
type VerificationInput struct {
	IsOwnerVerified    bool   `json:"is_owner_verified"`
	VerificationMethod string `json:"verification_method,omitempty"`
	VerificationNotes  string `json:"verification_notes,omitempty"`
}

type verificationStep struct{}

func (verificationStep) Name() string { return StepVerification }

func (verificationStep) Seed(d FormData) any {
	return VerificationInput{
		IsOwnerVerified:    d.IsOwnerVerified,
		VerificationMethod: d.VerificationMethod,
		VerificationNotes:  d.VerificationNotes,
	}
}

func (verificationStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in VerificationInput
	if err := intake.Decode(input, &in); err != nil {
		return Patch{}, err
	}
	in.VerificationMethod = strings.TrimSpace(in.VerificationMethod)
	in.VerificationNotes = strings.TrimSpace(in.VerificationNotes)
	if err := schema.Check("#Verification", in); err != nil {
		var verr validate.Errors
		if errors.As(err, &verr) {
			if _, ok := verr["is_owner_verified"]; ok {
				verr["is_owner_verified"] = "must be confirmed"
			}
		}
		return Patch{}, err
	}
	return Patch{
		IsOwnerVerified:    &in.IsOwnerVerified,
		VerificationMethod: &in.VerificationMethod,
		VerificationNotes:  &in.VerificationNotes,
	}, nil
}

// ReviewInput is the signature captured on the customer's behalf.
type ReviewInput struct {
	SignatureMode string              `json:"signature_mode,omitempty"`
	TypedName     string              `json:"typed_name,omitempty"`
	Strokes       [][]signature.Point `json:"strokes,omitempty"`
	DataURL       string              `json:"data_url,omitempty"`
}

type reviewStep struct{}

func (reviewStep) Name() string { return StepReview }

func (reviewStep) Seed(d FormData) any {
	mode := d.SignatureMode
	if mode == "" {
		mode = string(signature.ModeTyped)
	}
	return struct {
		Summary       FormData `json:"summary"`
		SignatureMode string   `json:"signature_mode"`
		TypedName     string   `json:"typed_name"`
		Missing       []string `json:"missing"`
	}{d, mode, strings.TrimSpace(d.FirstName + " " + d.LastName), d.Missing()}
}

func (reviewStep) Submit(d FormData, input json.RawMessage) (Patch, error) {
	var in ReviewInput
	if err := intake.Decode(input, &in); err != nil {
		return Patch{}, err
	}
	sig, err := intake.CheckReview(intake.ReviewInput{
		SignatureMode:   in.SignatureMode,
		TypedName:       in.TypedName,
		Strokes:         in.Strokes,
		DataURL:         in.DataURL,
		IsOwnerVerified: d.IsOwnerVerified,
	})
	if err != nil {
		return Patch{}, err
	}
	return Patch{Signature: &sig, SignatureMode: &in.SignatureMode}, nil
}
