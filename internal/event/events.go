package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string
	EventType        string
	OccurredAt       time.Time
	AffectedEntities []types.SourceRef
	Summary          string
	Category         string // "intake", "protest", "document", "billing", "referral"
	Weight           string // "critical", "major", "minor", "info"
	Polarity         string // "positive", "negative", "neutral"
	Payload          json.RawMessage
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// refs drops references whose id is empty, which happens when a pipeline
// fails before the entity exists.
func refs(in ...types.SourceRef) []types.SourceRef {
	out := make([]types.SourceRef, 0, len(in))
	for _, r := range in {
		if r.EntityID != "" {
			out = append(out, r)
		}
	}
	return out
}

// ── Intake events ────────────────────────────────────────────────────────────

// OwnerCreatedPayload carries event-specific data for OwnerCreated.
type OwnerCreatedPayload struct {
	OwnerID  string `json:"owner_id"`
	Email    string `json:"email"`
	IsEntity bool   `json:"is_entity"`
	Channel  string `json:"channel"`
}

func NewOwnerCreated(p OwnerCreatedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "owner_created",
		OccurredAt:       time.Now(),
		AffectedEntities: refs(types.SourceRef{EntityType: "owner", EntityID: p.OwnerID, Role: "subject"}),
		Summary:          fmt.Sprintf("Owner %s created via %s intake", short(p.OwnerID), p.Channel),
		Category:         "intake",
		Weight:           "minor",
		Polarity:         "positive",
		Payload:          mustJSON(p),
	}
}

// PropertyEnrolledPayload carries event-specific data for PropertyEnrolled.
type PropertyEnrolledPayload struct {
	PropertyID       string `json:"property_id"`
	OwnerID          string `json:"owner_id"`
	PlaceID          string `json:"place_id"`
	FormattedAddress string `json:"formatted_address"`
	County           string `json:"county,omitempty"`
	Channel          string `json:"channel"`
}

func NewPropertyEnrolled(p PropertyEnrolledPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "property_enrolled",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "subject"},
			types.SourceRef{EntityType: "owner", EntityID: p.OwnerID, Role: "related"},
		),
		Summary:  fmt.Sprintf("Property at %s enrolled", p.FormattedAddress),
		Category: "intake",
		Weight:   "major",
		Polarity: "positive",
		Payload:  mustJSON(p),
	}
}

// ApplicationSubmittedPayload carries event-specific data for ApplicationSubmitted.
type ApplicationSubmittedPayload struct {
	ApplicationID string `json:"application_id"`
	PropertyID    string `json:"property_id"`
	OwnerID       string `json:"owner_id"`
	SignatureMode string `json:"signature_mode"`
	Channel       string `json:"channel"`
	SubmittedBy   string `json:"submitted_by"`
}

func NewApplicationSubmitted(p ApplicationSubmittedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "application_submitted",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "application", EntityID: p.ApplicationID, Role: "subject"},
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "context"},
			types.SourceRef{EntityType: "owner", EntityID: p.OwnerID, Role: "related"},
		),
		Summary:  fmt.Sprintf("Application %s signed (%s) by %s", short(p.ApplicationID), p.SignatureMode, p.SubmittedBy),
		Category: "intake",
		Weight:   "major",
		Polarity: "positive",
		Payload:  mustJSON(p),
	}
}

// SubmissionFailedPayload carries event-specific data for SubmissionFailed.
// The ids are those created before the failing step.
type SubmissionFailedPayload struct {
	Step          string `json:"step"`
	Channel       string `json:"channel"`
	Email         string `json:"email"`
	OwnerID       string `json:"owner_id,omitempty"`
	PropertyID    string `json:"property_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	Error         string `json:"error"`
}

func NewSubmissionFailed(p SubmissionFailedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "submission_failed",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "owner", EntityID: p.OwnerID, Role: "subject"},
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "related"},
			types.SourceRef{EntityType: "application", EntityID: p.ApplicationID, Role: "related"},
		),
		Summary:  fmt.Sprintf("Submission for %s failed at %s: %s", p.Email, p.Step, p.Error),
		Category: "intake",
		Weight:   "critical",
		Polarity: "negative",
		Payload:  mustJSON(p),
	}
}

// ── Protest events ───────────────────────────────────────────────────────────

// ProtestFiledPayload carries event-specific data for ProtestFiled.
type ProtestFiledPayload struct {
	ProtestID     string `json:"protest_id"`
	PropertyID    string `json:"property_id"`
	ApplicationID string `json:"application_id"`
	OwnerID       string `json:"owner_id"`
	TaxYear       int    `json:"tax_year"`
}

func NewProtestFiled(p ProtestFiledPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "protest_filed",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "protest", EntityID: p.ProtestID, Role: "subject"},
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "context"},
			types.SourceRef{EntityType: "application", EntityID: p.ApplicationID, Role: "related"},
			types.SourceRef{EntityType: "owner", EntityID: p.OwnerID, Role: "related"},
		),
		Summary:  fmt.Sprintf("Protest opened for tax year %d", p.TaxYear),
		Category: "protest",
		Weight:   "major",
		Polarity: "positive",
		Payload:  mustJSON(p),
	}
}

// EvidenceUploadedPayload carries event-specific data for EvidenceUploaded.
type EvidenceUploadedPayload struct {
	EvidenceID string `json:"evidence_id"`
	PropertyID string `json:"property_id"`
	ProtestID  string `json:"protest_id,omitempty"`
	UserID     string `json:"user_id"`
	FileName   string `json:"file_name"`
	SizeBytes  int64  `json:"size_bytes"`
}

func NewEvidenceUploaded(p EvidenceUploadedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "evidence_uploaded",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "evidence_upload", EntityID: p.EvidenceID, Role: "subject"},
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "context"},
			types.SourceRef{EntityType: "protest", EntityID: p.ProtestID, Role: "related"},
		),
		Summary:  fmt.Sprintf("Evidence %q uploaded (%d bytes)", p.FileName, p.SizeBytes),
		Category: "protest",
		Weight:   "minor",
		Polarity: "neutral",
		Payload:  mustJSON(p),
	}
}

// ── Document events ──────────────────────────────────────────────────────────

// DocumentGeneratedPayload carries event-specific data for DocumentGenerated.
type DocumentGeneratedPayload struct {
	DocumentID   string `json:"document_id"`
	PropertyID   string `json:"property_id"`
	UserID       string `json:"user_id"`
	DocumentType string `json:"document_type"`
}

func NewDocumentGenerated(p DocumentGeneratedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "document_generated",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "customer_document", EntityID: p.DocumentID, Role: "subject"},
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "context"},
		),
		Summary:  fmt.Sprintf("Generated %s", p.DocumentType),
		Category: "document",
		Weight:   "minor",
		Polarity: "positive",
		Payload:  mustJSON(p),
	}
}

// DocumentGenerationFailedPayload carries event-specific data for DocumentGenerationFailed.
type DocumentGenerationFailedPayload struct {
	Function   string `json:"function"`
	PropertyID string `json:"property_id"`
	UserID     string `json:"user_id"`
	Error      string `json:"error"`
}

func NewDocumentGenerationFailed(p DocumentGenerationFailedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "document_generation_failed",
		OccurredAt:       time.Now(),
		AffectedEntities: refs(types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "subject"}),
		Summary:          fmt.Sprintf("%s failed: %s", p.Function, p.Error),
		Category:         "document",
		Weight:           "major",
		Polarity:         "negative",
		Payload:          mustJSON(p),
	}
}

// ── Referral events ──────────────────────────────────────────────────────────

// ReferralRecordedPayload carries event-specific data for ReferralRecorded.
type ReferralRecordedPayload struct {
	ReferralID    string `json:"referral_id"`
	ReferrerCode  string `json:"referrer_code"`
	ReferredEmail string `json:"referred_email"`
	PropertyID    string `json:"property_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

func NewReferralRecorded(p ReferralRecordedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "referral_recorded",
		OccurredAt: time.Now(),
		AffectedEntities: refs(
			types.SourceRef{EntityType: "referral", EntityID: p.ReferralID, Role: "subject"},
			types.SourceRef{EntityType: "property", EntityID: p.PropertyID, Role: "related"},
		),
		Summary:  fmt.Sprintf("Referral from code %s recorded", p.ReferrerCode),
		Category: "referral",
		Weight:   "info",
		Polarity: "positive",
		Payload:  mustJSON(p),
	}
}
