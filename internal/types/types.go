// Package types provides the typed records persisted through the data service
// and the shared value types embedded in them. Every row the service reads or
// writes is one of these structs; nothing is passed around as a loose map.
package types

import (
	"encoding/json"
	"time"
)

// Money represents a monetary amount using integer cents to eliminate
// floating-point errors in billing.
type Money struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"` // ISO 4217, e.g. "USD"
}

// PlaceData is the geocoding metadata returned by the address-autocomplete
// widget. PlaceID is empty when the user typed an address that was never
// resolved to a place.
type PlaceData struct {
	PlaceID          string   `json:"place_id"`
	FormattedAddress string   `json:"formatted_address"`
	Street           string   `json:"street,omitempty"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state,omitempty"` // 2-letter state code
	Zip              string   `json:"zip,omitempty"`
	County           string   `json:"county,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// Resolved reports whether the address was verified by the autocomplete widget.
func (p PlaceData) Resolved() bool {
	return p.PlaceID != ""
}

// SourceRef points at an entity affected by a domain event.
type SourceRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "target", "related", "context"
}

// ActivityEntry is one row of an entity's activity stream. A single domain
// event produces one entry per affected entity.
type ActivityEntry struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	IndexedEntityType string          `json:"indexed_entity_type"`
	IndexedEntityID   string          `json:"indexed_entity_id"`
	EntityRole        string          `json:"entity_role"`
	SourceRefs        []SourceRef     `json:"source_refs"`
	Summary           string          `json:"summary"`
	Category          string          `json:"category"` // "intake", "protest", "document", "billing", "referral"
	Weight            string          `json:"weight"`   // "critical", "major", "minor", "info"
	Polarity          string          `json:"polarity"` // "positive", "negative", "neutral"
	Payload           json.RawMessage `json:"payload"`
}

// Owner is the legal holder of record for a property, either an individual or
// an entity (trust, LLC, ...). The entity fields are nil for individuals.
type Owner struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone,omitempty"`
	Role               string    `json:"role,omitempty"`
	IsEntity           bool      `json:"is_entity"`
	EntityName         *string   `json:"entity_name"`
	EntityRelationship *string   `json:"entity_relationship"`
	EntityType         *string   `json:"entity_type"`
	CreatedAt          time.Time `json:"created_at"`
}

// Property is a parcel enrolled for protest.
type Property struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	UserID           string    `json:"user_id"`
	PlaceID          string    `json:"place_id"`
	FormattedAddress string    `json:"formatted_address"`
	Street           string    `json:"street,omitempty"`
	City             string    `json:"city,omitempty"`
	State            string    `json:"state,omitempty"`
	Zip              string    `json:"zip,omitempty"`
	County           string    `json:"county,omitempty"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	Status           string    `json:"status"` // "enrolled", "active", "closed"
	CreatedAt        time.Time `json:"created_at"`
}

// Application is the signed enrollment that authorises filing on the owner's behalf.
type Application struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	PropertyID      string    `json:"property_id"`
	UserID          string    `json:"user_id"`
	Signature       string    `json:"signature"`
	SignatureMode   string    `json:"signature_mode"`
	IsOwnerVerified bool      `json:"is_owner_verified"`
	UpdatesOptIn    bool      `json:"updates_opt_in"`
	Channel         string    `json:"channel"` // "public", "concierge", "portal"
	SubmittedBy     string    `json:"submitted_by"`
	Status          string    `json:"status"` // "submitted", "accepted", "rejected"
	CreatedAt       time.Time `json:"created_at"`
}

// Protest is a filed property-tax appeal tied to a property.
type Protest struct {
	ID            string    `json:"id"`
	PropertyID    string    `json:"property_id"`
	ApplicationID string    `json:"application_id"`
	OwnerID       string    `json:"owner_id"`
	TaxYear       int       `json:"tax_year"`
	Status        string    `json:"status"` // "pending", "filed", "hearing", "settled", "withdrawn"
	CreatedAt     time.Time `json:"created_at"`
}

// Contact is a CRM lead or customer contact.
type Contact struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EvidenceUpload is a file a customer attached to a property's protest.
type EvidenceUpload struct {
	ID          string    `json:"id"`
	PropertyID  string    `json:"property_id"`
	ProtestID   *string   `json:"protest_id,omitempty"`
	UserID      string    `json:"user_id"`
	Bucket      string    `json:"bucket"`
	ObjectPath  string    `json:"object_path"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// CustomerDocument is a generated document stored in the customer-documents bucket.
type CustomerDocument struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PropertyID   string    `json:"property_id"`
	DocumentType string    `json:"document_type"` // "form_50_162", "services_agreement"
	Bucket       string    `json:"bucket"`
	ObjectPath   string    `json:"object_path"`
	Status       string    `json:"status"` // "generated", "signed", "filed"
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the account record of an authenticated customer or staff member.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone,omitempty"`
	Role         string    `json:"role"` // "customer", "staff", "admin"
	ReferralCode string    `json:"referral_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// Bill is a contingency-fee charge raised after a protest settles.
type Bill struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	PropertyID  string     `json:"property_id"`
	Amount      Money      `json:"amount"`
	Status      string     `json:"status"` // "open", "paid", "void"
	DueDate     *time.Time `json:"due_date,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Invoice is an issued statement for a bill.
type Invoice struct {
	ID        string    `json:"id"`
	BillID    string    `json:"bill_id"`
	UserID    string    `json:"user_id"`
	Number    string    `json:"number"`
	Amount    Money     `json:"amount"`
	Status    string    `json:"status"` // "issued", "paid", "void"
	CreatedAt time.Time `json:"created_at"`
}

// Referral records a referred lead and who referred them.
type Referral struct {
	ID            string    `json:"id"`
	ReferrerCode  string    `json:"referrer_code"`
	ReferredName  string    `json:"referred_name,omitempty"`
	ReferredEmail string    `json:"referred_email"`
	Source        string    `json:"source,omitempty"` // utm_source
	PropertyID    *string   `json:"property_id,omitempty"`
	Status        string    `json:"status"` // "pending", "enrolled", "rewarded"
	CreatedAt     time.Time `json:"created_at"`
}
