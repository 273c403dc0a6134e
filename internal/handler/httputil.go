package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/auth"
	"github.com/matthewbaird/protestdesk/internal/concierge"
	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/draft"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/portal"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/storage"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/validate"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// AuditInfo holds audit metadata extracted from request headers.
type AuditInfo struct {
	Actor         string
	Source        string
	CorrelationID *string
}

// SupportContact is returned with errors that need a person to resolve.
type SupportContact struct {
	Email string `json:"email" yaml:"email"`
	Phone string `json:"phone" yaml:"phone"`
	URL   string `json:"url,omitempty" yaml:"url"`
}

// Env carries what every handler needs to answer a request.
type Env struct {
	Log     *zap.Logger
	Support SupportContact
}

func (e Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

type errorBody struct {
	Error   string              `json:"error"`
	Code    string              `json:"code"`
	Fields  validate.Errors     `json:"fields,omitempty"`
	Missing []string            `json:"missing,omitempty"`
	Support *SupportContact     `json:"support,omitempty"`
	Step    string              `json:"step,omitempty"`
	Created *submission.Created `json:"created,omitempty"`
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, env Env, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		env.logger().Warn("writeJSON encode error", zap.Error(err))
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, env Env, status int, code, message string) {
	writeJSON(w, env, status, errorBody{Error: message, Code: code})
}

// decodeJSON decodes the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// readRaw returns the request body for step inputs, which are decoded
// strictly by the step itself.
func readRaw(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// parseUUID extracts and validates a UUID path parameter.
func parseUUID(w http.ResponseWriter, r *http.Request, env Env, paramName string) (string, bool) {
	raw := chi.URLParam(r, paramName)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, env, http.StatusBadRequest, "INVALID_ID", "invalid UUID: "+raw)
		return "", false
	}
	return id.String(), true
}

// parseAuditContext extracts audit metadata from request headers.
func parseAuditContext(w http.ResponseWriter, r *http.Request, env Env) (AuditInfo, bool) {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		writeError(w, env, http.StatusBadRequest, "MISSING_ACTOR", "X-Actor header is required")
		return AuditInfo{}, false
	}
	source := r.Header.Get("X-Source")
	if source == "" {
		source = "user"
	}
	info := AuditInfo{
		Actor:  actor,
		Source: source,
	}
	if cid := r.Header.Get("X-Correlation-ID"); cid != "" {
		info.CorrelationID = &cid
	}
	return info, true
}

// errorToHTTP maps service errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, env Env, err error) {
	var (
		fields   validate.Errors
		prereq   *submission.PrerequisiteError
		step     *submission.StepError
		mismatch *intake.StepMismatchError
		tooBig   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &step):
		env.logger().Error("submission failed",
			zap.String("step", step.Step),
			zap.String("owner_id", step.Created.OwnerID),
			zap.String("property_id", step.Created.PropertyID),
			zap.Error(step.Err))
		writeJSON(w, env, http.StatusBadGateway, errorBody{
			Error:   step.Error(),
			Code:    "SUBMISSION_FAILED",
			Step:    step.Step,
			Created: &step.Created,
		})
	case errors.As(err, &fields):
		writeJSON(w, env, http.StatusBadRequest, errorBody{Error: "validation failed", Code: "VALIDATION_ERROR", Fields: fields})
	case errors.Is(err, intake.ErrSupportRequired):
		support := env.Support
		writeJSON(w, env, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "SUPPORT_REQUIRED", Support: &support})
	case errors.As(err, &prereq):
		support := env.Support
		writeJSON(w, env, http.StatusUnprocessableEntity, errorBody{
			Error:   err.Error(),
			Code:    "MISSING_PREREQUISITE",
			Missing: prereq.Missing,
			Support: &support,
		})
	case errors.As(err, &mismatch):
		writeError(w, env, http.StatusConflict, "STEP_MISMATCH", err.Error())
	case errors.Is(err, draft.ErrAlreadySubmitting):
		writeError(w, env, http.StatusConflict, "ALREADY_SUBMITTING", err.Error())
	case errors.Is(err, draft.ErrConflict):
		writeError(w, env, http.StatusConflict, "DRAFT_CONFLICT", err.Error())
	case errors.Is(err, concierge.ErrNotOnCustomerStep):
		writeError(w, env, http.StatusConflict, "WRONG_STEP", err.Error())
	case errors.Is(err, concierge.ErrStaffRequired):
		writeError(w, env, http.StatusBadRequest, "MISSING_ACTOR", err.Error())
	case errors.Is(err, intake.ErrBadInput):
		writeError(w, env, http.StatusBadRequest, "INVALID_BODY", err.Error())
	case errors.As(err, &tooBig), errors.Is(err, portal.ErrTooLarge):
		writeError(w, env, http.StatusRequestEntityTooLarge, "TOO_LARGE", err.Error())
	case errors.Is(err, wizard.ErrUnknownStep):
		writeError(w, env, http.StatusNotFound, "UNKNOWN_STEP", err.Error())
	case errors.Is(err, auth.ErrExpired):
		writeError(w, env, http.StatusUnauthorized, "TOKEN_EXPIRED", err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, env, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, auth.ErrNoAccount):
		writeError(w, env, http.StatusNotFound, "NO_ACCOUNT", err.Error())
	case errors.Is(err, portal.ErrAccountExists):
		writeError(w, env, http.StatusConflict, "ACCOUNT_EXISTS", err.Error())
	case errors.Is(err, referral.ErrDuplicate):
		writeError(w, env, http.StatusConflict, "REFERRAL_PENDING", err.Error())
	case errors.Is(err, referral.ErrSelfReferral):
		writeError(w, env, http.StatusBadRequest, "SELF_REFERRAL", err.Error())
	case errors.Is(err, storage.ErrInvalidPath):
		writeError(w, env, http.StatusBadRequest, "INVALID_PATH", err.Error())
	case errors.Is(err, draft.ErrNotFound),
		errors.Is(err, dataservice.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, env, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, dataservice.ErrNotImplemented):
		writeError(w, env, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error())
	default:
		env.logger().Error("internal error", zap.Error(err))
		writeError(w, env, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
