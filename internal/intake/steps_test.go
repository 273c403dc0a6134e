package intake

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

func fieldErrors(t *testing.T, err error) validate.Errors {
	t.Helper()
	var verr validate.Errors
	require.ErrorAs(t, err, &verr)
	return verr
}

func TestCheckAddress(t *testing.T) {
	t.Run("typed but unresolved routes to support", func(t *testing.T) {
		_, err := CheckAddress(AddressInput{Address: "123 Main St"})
		assert.ErrorIs(t, err, ErrSupportRequired)
	})

	t.Run("empty is required", func(t *testing.T) {
		_, err := CheckAddress(AddressInput{})
		assert.Equal(t, "is required", fieldErrors(t, err)["address"])
	})

	t.Run("resolved", func(t *testing.T) {
		lat, lng := 30.27, -97.74
		p, err := CheckAddress(AddressInput{
			PlaceID:          "pl_1",
			FormattedAddress: "123 Main St, Austin, TX 78701",
			City:             "Austin",
			State:            "tx",
			Zip:              "78701",
			County:           "Travis",
			Latitude:         &lat,
			Longitude:        &lng,
		})
		require.NoError(t, err)
		assert.Equal(t, "TX", p.State)
		assert.Equal(t, "Travis", p.County)
		assert.True(t, p.Resolved())
	})

	t.Run("formatted address falls back to typed text", func(t *testing.T) {
		p, err := CheckAddress(AddressInput{Address: "9 Elm St", PlaceID: "pl_2"})
		require.NoError(t, err)
		assert.Equal(t, "9 Elm St", p.FormattedAddress)
	})

	t.Run("bad state and zip", func(t *testing.T) {
		_, err := CheckAddress(AddressInput{PlaceID: "pl_3", FormattedAddress: "x", State: "Texas", Zip: "7870"})
		errs := fieldErrors(t, err)
		assert.Equal(t, "is invalid", errs["state"])
		assert.Equal(t, "is invalid", errs["zip"])
	})
}

func TestCheckIdentity(t *testing.T) {
	t.Run("individual drops entity fields", func(t *testing.T) {
		in, err := CheckIdentity(IdentityInput{FirstName: " Ada ", LastName: "Lovelace", EntityName: "stale"})
		require.NoError(t, err)
		assert.Equal(t, "Ada", in.FirstName)
		assert.Equal(t, "owner", in.Role)
		assert.Empty(t, in.EntityName)
	})

	t.Run("entity requires entity fields", func(t *testing.T) {
		_, err := CheckIdentity(IdentityInput{FirstName: "Ada", LastName: "Lovelace", IsTrustEntity: true})
		errs := fieldErrors(t, err)
		assert.Equal(t, "is required", errs["entity_name"])
		assert.Equal(t, "is required", errs["entity_relationship"])
		assert.Equal(t, "is required", errs["entity_type"])
	})

	t.Run("entity", func(t *testing.T) {
		in, err := CheckIdentity(IdentityInput{
			FirstName: "Ada", LastName: "Lovelace", IsTrustEntity: true,
			EntityName: "Lovelace Family Trust", EntityRelationship: "trustee", EntityType: "Trust",
		})
		require.NoError(t, err)
		assert.Equal(t, "trust", in.EntityType)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := CheckIdentity(IdentityInput{FirstName: "Ada", LastName: "Lovelace", Role: "tenant"})
		assert.Equal(t, "is invalid", fieldErrors(t, err)["role"])
	})

	t.Run("missing names", func(t *testing.T) {
		_, err := CheckIdentity(IdentityInput{})
		errs := fieldErrors(t, err)
		assert.Equal(t, "is required", errs["first_name"])
		assert.Equal(t, "is required", errs["last_name"])
	})
}

func TestCheckContact(t *testing.T) {
	in, err := CheckContact(ContactInput{Email: "  Ada@Example.COM "})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", in.Email)

	_, err = CheckContact(ContactInput{Email: "not-an-email"})
	assert.Equal(t, "is invalid", fieldErrors(t, err)["email"])

	_, err = CheckContact(ContactInput{})
	assert.Equal(t, "is required", fieldErrors(t, err)["email"])
}

func TestCheckReview(t *testing.T) {
	t.Run("typed without name", func(t *testing.T) {
		_, err := CheckReview(ReviewInput{SignatureMode: "typed", IsOwnerVerified: true})
		assert.Equal(t, "is required", fieldErrors(t, err)["signature"])
	})

	t.Run("drawn without strokes", func(t *testing.T) {
		_, err := CheckReview(ReviewInput{SignatureMode: "drawn", IsOwnerVerified: true})
		assert.Equal(t, "is required", fieldErrors(t, err)["signature"])
	})

	t.Run("attestation must be confirmed", func(t *testing.T) {
		_, err := CheckReview(ReviewInput{SignatureMode: "typed", TypedName: "Ada Lovelace"})
		errs := fieldErrors(t, err)
		assert.Equal(t, "must be confirmed", errs["is_owner_verified"])
		assert.NotContains(t, errs, "signature")
	})

	t.Run("errors are combined", func(t *testing.T) {
		_, err := CheckReview(ReviewInput{SignatureMode: "drawn"})
		errs := fieldErrors(t, err)
		assert.Contains(t, errs, "signature")
		assert.Contains(t, errs, "is_owner_verified")
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := CheckReview(ReviewInput{SignatureMode: "stamped", IsOwnerVerified: true})
		assert.Equal(t, "is invalid", fieldErrors(t, err)["signature_mode"])
	})

	t.Run("typed", func(t *testing.T) {
		sig, err := CheckReview(ReviewInput{SignatureMode: "typed", TypedName: "Ada Lovelace", IsOwnerVerified: true})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sig, "data:image/svg+xml;base64,"))
		assert.True(t, signature.Present(sig))
	})

	t.Run("drawn", func(t *testing.T) {
		sig, err := CheckReview(ReviewInput{
			SignatureMode:   "drawn",
			Strokes:         [][]signature.Point{{{X: 10, Y: 10}, {X: 120, Y: 60}}},
			IsOwnerVerified: true,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sig, "data:image/png;base64,"))
	})
}

func TestStepSubmit_RejectsUnknownFields(t *testing.T) {
	_, err := contactStep{}.Submit(NewFormData(), json.RawMessage(`{"email":"a@b.co","fax":"1"}`))
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestSavingsStep_ClearsEntityFields(t *testing.T) {
	d := NewFormData()
	d.IsTrustEntity = true
	d.EntityName = "Old Trust"

	p, err := savingsStep{}.Submit(d, json.RawMessage(`{"first_name":"Ada","last_name":"Lovelace","is_trust_entity":false}`))
	require.NoError(t, err)
	d = Merge(d, p)
	assert.False(t, d.IsTrustEntity)
	assert.Empty(t, d.EntityName)
}

func TestFormData_Missing(t *testing.T) {
	d := NewFormData()
	assert.Equal(t, []string{
		"place_id", "formatted_address", "first_name", "last_name",
		"email", "signature", "is_owner_verified",
	}, d.Missing())

	d.IsTrustEntity = true
	assert.Contains(t, d.Missing(), "entity_type")
}
