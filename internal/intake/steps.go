package intake

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

//go:embed steps.cue
var stepsCUE string

var schema = validate.MustCompile(stepsCUE)

// Step names in funnel order.
const (
	StepAddress = "address"
	StepSavings = "savings"
	StepContact = "contact"
	StepReview  = "review"
)

var (
	// ErrSupportRequired is returned when an address was typed but never
	// resolved to a place. The user is routed to support instead of submitting.
	ErrSupportRequired = errors.New("intake: address could not be verified")
	// ErrBadInput is returned for step bodies that are not valid JSON objects.
	ErrBadInput = errors.New("intake: malformed step input")
)

// Step is one panel of the funnel. Seed returns the values the panel starts
// from; Submit validates the panel's input and returns the slice of form
// data it contributes.
type Step interface {
	Name() string
	Seed(d FormData) any
	Submit(d FormData, input json.RawMessage) (Patch, error)
}

// Steps returns the funnel's steps in order.
func Steps() []Step {
	return []Step{addressStep{}, savingsStep{}, contactStep{}, reviewStep{}}
}

// Decode strictly decodes a step body into v.
func Decode(input json.RawMessage, v any) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return nil
}

// ── Address ──────────────────────────────────────────────────────────────────

// AddressInput is what the address autocomplete hands to the address step.
// Address is the free text the user typed; the rest comes from the widget's
// place result.
type AddressInput struct {
	Address          string   `json:"address,omitempty"`
	PlaceID          string   `json:"place_id,omitempty"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	Street           string   `json:"street,omitempty"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state,omitempty"`
	Zip              string   `json:"zip,omitempty"`
	County           string   `json:"county,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// CheckAddress validates an address step input. An address typed without a
// place id short-circuits to ErrSupportRequired before any validation.
func CheckAddress(in AddressInput) (types.PlaceData, error) {
	in.Address = strings.TrimSpace(in.Address)
	in.PlaceID = strings.TrimSpace(in.PlaceID)
	in.FormattedAddress = strings.TrimSpace(in.FormattedAddress)
	in.State = strings.ToUpper(strings.TrimSpace(in.State))

	if in.PlaceID == "" {
		if in.Address != "" || in.FormattedAddress != "" {
			return types.PlaceData{}, ErrSupportRequired
		}
		return types.PlaceData{}, validate.Errors{"address": "is required"}
	}
	if in.FormattedAddress == "" {
		in.FormattedAddress = in.Address
	}
	if err := schema.Check("#Place", in); err != nil {
		return types.PlaceData{}, err
	}
	return types.PlaceData{
		PlaceID:          in.PlaceID,
		FormattedAddress: in.FormattedAddress,
		Street:           strings.TrimSpace(in.Street),
		City:             strings.TrimSpace(in.City),
		State:            in.State,
		Zip:              strings.TrimSpace(in.Zip),
		County:           strings.TrimSpace(in.County),
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
	}, nil
}

// PlacePatch sets every place field of the form, clearing stale values.
func PlacePatch(p types.PlaceData) Patch {
	var lat, lng float64
	if p.Latitude != nil && p.Longitude != nil {
		lat, lng = *p.Latitude, *p.Longitude
	}
	return Patch{
		PlaceID:          &p.PlaceID,
		FormattedAddress: &p.FormattedAddress,
		Street:           &p.Street,
		City:             &p.City,
		State:            &p.State,
		Zip:              &p.Zip,
		County:           &p.County,
		Latitude:         &lat,
		Longitude:        &lng,
	}
}

type addressStep struct{}

func (addressStep) Name() string { return StepAddress }

func (addressStep) Seed(d FormData) any {
	p := d.Place()
	return AddressInput{
		Address:          d.FormattedAddress,
		PlaceID:          p.PlaceID,
		FormattedAddress: p.FormattedAddress,
		Street:           p.Street,
		City:             p.City,
		State:            p.State,
		Zip:              p.Zip,
		County:           p.County,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
	}
}

func (addressStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in AddressInput
	if err := Decode(input, &in); err != nil {
		return Patch{}, err
	}
	place, err := CheckAddress(in)
	if err != nil {
		return Patch{}, err
	}
	return PlacePatch(place), nil
}

// ── Savings / identity ───────────────────────────────────────────────────────

// IdentityInput names the owner and, for entity-held property, the entity.
type IdentityInput struct {
	FirstName             string `json:"first_name,omitempty"`
	LastName              string `json:"last_name,omitempty"`
	Role                  string `json:"role,omitempty"`
	IsTrustEntity         bool   `json:"is_trust_entity"`
	EntityName            string `json:"entity_name,omitempty"`
	EntityRelationship    string `json:"entity_relationship,omitempty"`
	EntityType            string `json:"entity_type,omitempty"`
	EstimatedSavingsCents *int64 `json:"estimated_savings_cents,omitempty"`
}

// CheckIdentity validates identity fields. Entity fields are dropped when
// the owner is not an entity.
func CheckIdentity(in IdentityInput) (IdentityInput, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Role = strings.TrimSpace(in.Role)
	if in.Role == "" {
		in.Role = "owner"
	}
	if in.IsTrustEntity {
		in.EntityName = strings.TrimSpace(in.EntityName)
		in.EntityRelationship = strings.TrimSpace(in.EntityRelationship)
		in.EntityType = strings.ToLower(strings.TrimSpace(in.EntityType))
	} else {
		in.EntityName, in.EntityRelationship, in.EntityType = "", "", ""
	}
	savings := in.EstimatedSavingsCents
	in.EstimatedSavingsCents = nil
	if err := schema.Check("#Identity", in); err != nil {
		return in, err
	}
	if savings != nil && *savings < 0 {
		return in, validate.Errors{"estimated_savings_cents": "is invalid"}
	}
	in.EstimatedSavingsCents = savings
	return in, nil
}

type savingsStep struct{}

func (savingsStep) Name() string { return StepSavings }

func (savingsStep) Seed(d FormData) any {
	in := IdentityInput{
		FirstName:          d.FirstName,
		LastName:           d.LastName,
		Role:               d.Role,
		IsTrustEntity:      d.IsTrustEntity,
		EntityName:         d.EntityName,
		EntityRelationship: d.EntityRelationship,
		EntityType:         d.EntityType,
	}
	if d.EstimatedSavings > 0 {
		in.EstimatedSavingsCents = &d.EstimatedSavings
	}
	return in
}

func (savingsStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in IdentityInput
	if err := Decode(input, &in); err != nil {
		return Patch{}, err
	}
	in, err := CheckIdentity(in)
	if err != nil {
		return Patch{}, err
	}
	return Patch{
		FirstName:          &in.FirstName,
		LastName:           &in.LastName,
		Role:               &in.Role,
		IsTrustEntity:      &in.IsTrustEntity,
		EntityName:         &in.EntityName,
		EntityRelationship: &in.EntityRelationship,
		EntityType:         &in.EntityType,
		EstimatedSavings:   in.EstimatedSavingsCents,
	}, nil
}

// ── Contact ──────────────────────────────────────────────────────────────────

// ContactInput is how the owner can be reached.
type ContactInput struct {
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	UpdatesOptIn bool   `json:"updates_opt_in"`
}

// CheckContact validates and normalises contact fields.
func CheckContact(in ContactInput) (ContactInput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	if err := schema.Check("#Contact", in); err != nil {
		return in, err
	}
	return in, nil
}

type contactStep struct{}

func (contactStep) Name() string { return StepContact }

func (contactStep) Seed(d FormData) any {
	return ContactInput{Email: d.Email, Phone: d.Phone, UpdatesOptIn: d.UpdatesOptIn}
}

func (contactStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in ContactInput
	if err := Decode(input, &in); err != nil {
		return Patch{}, err
	}
	in, err := CheckContact(in)
	if err != nil {
		return Patch{}, err
	}
	return Patch{Email: &in.Email, Phone: &in.Phone, UpdatesOptIn: &in.UpdatesOptIn}, nil
}

// ── Review / signature ───────────────────────────────────────────────────────

// ReviewInput is the signature pad's output plus the ownership attestation.
type ReviewInput struct {
	SignatureMode   string              `json:"signature_mode,omitempty"`
	TypedName       string              `json:"typed_name,omitempty"`
	Strokes         [][]signature.Point `json:"strokes,omitempty"`
	DataURL         string              `json:"data_url,omitempty"`
	IsOwnerVerified bool                `json:"is_owner_verified"`
}

// ReviewView is what the review panel is seeded with.
type ReviewView struct {
	Summary         FormData `json:"summary"`
	SignatureMode   string   `json:"signature_mode"`
	TypedName       string   `json:"typed_name"`
	IsOwnerVerified bool     `json:"is_owner_verified"`
	Missing         []string `json:"missing"`
}

// CheckReview validates the attestation and captures the signature. A
// missing signature is reported on the signature field in both modes.
func CheckReview(in ReviewInput) (sig string, err error) {
	errs := validate.Errors{}
	if err := schema.Check("#Review", in); err != nil {
		var verr validate.Errors
		if !errors.As(err, &verr) {
			return "", err
		}
		for f, msg := range verr {
			errs.Add(f, msg)
		}
	}
	if _, ok := errs["is_owner_verified"]; ok {
		errs["is_owner_verified"] = "must be confirmed"
	}

	mode := signature.Mode(in.SignatureMode)
	if mode == signature.ModeTyped || mode == signature.ModeDrawn {
		sig, err = signature.Capture(signature.Input{
			Mode:      mode,
			TypedName: in.TypedName,
			Strokes:   in.Strokes,
			DataURL:   in.DataURL,
		})
		switch {
		case errors.Is(err, signature.ErrEmpty):
			errs.Add("signature", "is required")
		case err != nil:
			errs.Add("signature", "is invalid")
		}
	}
	if err := errs.OrNil(); err != nil {
		return "", err
	}
	return sig, nil
}

type reviewStep struct{}

func (reviewStep) Name() string { return StepReview }

func (reviewStep) Seed(d FormData) any {
	mode := d.SignatureMode
	if mode == "" {
		mode = string(signature.ModeTyped)
	}
	return ReviewView{
		Summary:         d,
		SignatureMode:   mode,
		TypedName:       strings.TrimSpace(d.FirstName + " " + d.LastName),
		IsOwnerVerified: d.IsOwnerVerified,
		Missing:         d.Missing(),
	}
}

func (reviewStep) Submit(_ FormData, input json.RawMessage) (Patch, error) {
	var in ReviewInput
	if err := Decode(input, &in); err != nil {
		return Patch{}, err
	}
	sig, err := CheckReview(in)
	if err != nil {
		return Patch{}, err
	}
	verified := true
	return Patch{Signature: &sig, SignatureMode: &in.SignatureMode, IsOwnerVerified: &verified}, nil
}
