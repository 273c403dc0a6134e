// Package intake implements the public self-serve funnel: the address,
// savings, contact and review steps, the form they accumulate, and the
// draft-backed service the HTTP handlers drive.
package intake

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

// FormData is the record accumulated across the funnel's steps.
type FormData struct {
	PlaceID          string  `json:"place_id"`
	FormattedAddress string  `json:"formatted_address"`
	Street           string  `json:"street,omitempty"`
	City             string  `json:"city,omitempty"`
	State            string  `json:"state,omitempty"`
	Zip              string  `json:"zip,omitempty"`
	County           string  `json:"county,omitempty"`
	Latitude         float64 `json:"latitude,omitempty"`
	Longitude        float64 `json:"longitude,omitempty"`

	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Role               string `json:"role"`
	IsTrustEntity      bool   `json:"is_trust_entity"`
	EntityName         string `json:"entity_name,omitempty"`
	EntityRelationship string `json:"entity_relationship,omitempty"`
	EntityType         string `json:"entity_type,omitempty"`

	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	UpdatesOptIn bool   `json:"updates_opt_in"`

	Signature       string `json:"signature,omitempty"`
	SignatureMode   string `json:"signature_mode,omitempty"`
	IsOwnerVerified bool   `json:"is_owner_verified"`

	ReferralCode     string `json:"referral_code,omitempty"`
	UTMSource        string `json:"utm_source,omitempty"`
	EstimatedSavings int64  `json:"estimated_savings_cents,omitempty"`
}

// Patch is a partial update of FormData. Nil fields are left untouched.
type Patch struct {
	PlaceID          *string
	FormattedAddress *string
	Street           *string
	City             *string
	State            *string
	Zip              *string
	County           *string
	Latitude         *float64
	Longitude        *float64

	FirstName          *string
	LastName           *string
	Role               *string
	IsTrustEntity      *bool
	EntityName         *string
	EntityRelationship *string
	EntityType         *string

	Email        *string
	Phone        *string
	UpdatesOptIn *bool

	Signature       *string
	SignatureMode   *string
	IsOwnerVerified *bool

	ReferralCode     *string
	UTMSource        *string
	EstimatedSavings *int64
}

// Merge applies p to d.
func Merge(d FormData, p Patch) FormData {
	return wizard.Merge(d, p)
}

// NewFormData returns the defaults a fresh funnel starts from.
func NewFormData() FormData {
	return FormData{Role: "owner"}
}

// Place returns the geocoding fields as PlaceData.
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

// Missing lists the required fields not yet populated, in step order.
func (d FormData) Missing() []string {
	var missing []string
	need := func(field string, ok bool) {
		if !ok {
			missing = append(missing, field)
		}
	}
	need("place_id", d.PlaceID != "")
	need("formatted_address", d.FormattedAddress != "")
	need("first_name", strings.TrimSpace(d.FirstName) != "")
	need("last_name", strings.TrimSpace(d.LastName) != "")
	if d.IsTrustEntity {
		need("entity_name", d.EntityName != "")
		need("entity_relationship", d.EntityRelationship != "")
		need("entity_type", d.EntityType != "")
	}
	need("email", d.Email != "")
	need("signature", signature.Present(d.Signature))
	need("is_owner_verified", d.IsOwnerVerified)
	return missing
}

// Submittable reports whether every step's required fields are present.
func (d FormData) Submittable() bool {
	return len(d.Missing()) == 0
}

// Request converts the form into a submission request.
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
	return submission.Request{
		Channel:         submission.ChannelPublic,
		SubmittedBy:     "self",
		Owner:           owner,
		Place:           d.Place(),
		Signature:       d.Signature,
		SignatureMode:   d.SignatureMode,
		IsOwnerVerified: d.IsOwnerVerified,
		UpdatesOptIn:    d.UpdatesOptIn,
		ReferralCode:    d.ReferralCode,
		UTMSource:       d.UTMSource,
	}
}

// Prefill carries the landing page's query parameters into a new funnel.
type Prefill struct {
	PlaceID          string
	FormattedAddress string
	County           string
	Latitude         *float64
	Longitude        *float64
	ReferralCode     string
	UTMSource        string
}

// PrefillFromQuery reads place_id, formatted_address, county, lat, lng, ref
// and utm_source. Unparseable coordinates are a validation error.
func PrefillFromQuery(q url.Values) (Prefill, error) {
	p := Prefill{
		PlaceID:          strings.TrimSpace(q.Get("place_id")),
		FormattedAddress: strings.TrimSpace(q.Get("formatted_address")),
		County:           strings.TrimSpace(q.Get("county")),
		ReferralCode:     strings.TrimSpace(q.Get("ref")),
		UTMSource:        strings.TrimSpace(q.Get("utm_source")),
	}
	errs := validate.Errors{}
	coord := func(name string, limit float64) *float64 {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < -limit || v > limit {
			errs.Add(name, "is invalid")
			return nil
		}
		return &v
	}
	p.Latitude = coord("lat", 90)
	p.Longitude = coord("lng", 180)
	return p, errs.OrNil()
}

// Patch converts the prefill into a form patch. Empty values are skipped.
func (p Prefill) Patch() Patch {
	var out Patch
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&out.PlaceID, p.PlaceID)
	set(&out.FormattedAddress, p.FormattedAddress)
	set(&out.County, p.County)
	set(&out.ReferralCode, p.ReferralCode)
	set(&out.UTMSource, p.UTMSource)
	out.Latitude = p.Latitude
	out.Longitude = p.Longitude
	return out
}

// Resolved reports whether the prefill already carries a verified place.
func (p Prefill) Resolved() bool {
	return p.PlaceID != "" && p.FormattedAddress != ""
}
