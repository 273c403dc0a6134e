package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/auth"
	"github.com/matthewbaird/protestdesk/internal/portal"
)

// PortalHandler implements the customer portal. All routes but SetupAccount
// run behind RequireCustomer.
type PortalHandler struct {
	svc    *portal.Service
	signer *auth.Signer
	env    Env
}

// NewPortalHandler creates a new PortalHandler.
func NewPortalHandler(svc *portal.Service, signer *auth.Signer, env Env) *PortalHandler {
	return &PortalHandler{svc: svc, signer: signer, env: env}
}

// Dashboard handles GET /v1/customer-portal.
func (h *PortalHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context(), customerID(r))
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, d)
}

// GetAccount handles GET /v1/account.
func (h *PortalHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Account(r.Context(), customerID(r))
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, p)
}

// UpdateAccount handles PATCH /v1/account.
func (h *PortalHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var patch portal.AccountPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	p, err := h.svc.UpdateAccount(r.Context(), customerID(r), patch)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, p)
}

// SetupAccount creates the profile for the email a portal link was sent to
// and returns a session for it.
// POST /v1/setup-account
func (h *PortalHandler) SetupAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		portal.SetupInput
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	c, err := h.signer.Verify(req.Token, auth.KindPortal)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.Email), c.Email) {
		writeError(w, h.env, http.StatusUnauthorized, "UNAUTHORIZED", "email does not match token")
		return
	}
	profile, err := h.svc.SetupAccount(r.Context(), req.SetupInput)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	sess, err := h.signer.Issue(profile)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusCreated, sess)
}

// ListProperties handles GET /v1/properties.
func (h *PortalHandler) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.svc.Properties(r.Context(), customerID(r))
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, props)
}

// AddProperty enrolls another property for the caller.
// POST /v1/properties
func (h *PortalHandler) AddProperty(w http.ResponseWriter, r *http.Request) {
	var in portal.AddPropertyInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	res, err := h.svc.AddProperty(r.Context(), customerID(r), in)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusCreated, res)
}

// GetProperty handles GET /v1/properties/{propertyID}.
func (h *PortalHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "propertyID")
	if !ok {
		return
	}
	d, err := h.svc.Property(r.Context(), customerID(r), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, d)
}

// PropertyActivity handles GET /v1/properties/{propertyID}/activity.
func (h *PortalHandler) PropertyActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "propertyID")
	if !ok {
		return
	}
	opts := parseActivityQuery(r)
	entries, next, total, err := h.svc.Activity(r.Context(), customerID(r), id, opts)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, newActivityResponse(entries, next, total, opts))
}

// ListEvidence handles GET /v1/properties/{propertyID}/evidence.
func (h *PortalHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "propertyID")
	if !ok {
		return
	}
	ev, err := h.svc.Evidence(r.Context(), customerID(r), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, ev)
}

// UploadEvidence streams a multipart "file" part into the evidence bucket.
// A protest_id may be given as a query parameter or as a form field before
// the file.
// POST /v1/properties/{propertyID}/evidence
func (h *PortalHandler) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "propertyID")
	if !ok {
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "multipart/form-data body required")
		return
	}
	protestID := r.URL.Query().Get("protest_id")
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, h.env, http.StatusBadRequest, "MISSING_FILE", "file part is required")
			return
		}
		if err != nil {
			writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		switch part.FormName() {
		case "protest_id":
			b, _ := io.ReadAll(io.LimitReader(part, 64))
			protestID = strings.TrimSpace(string(b))
			part.Close()
			continue
		case "file":
		default:
			part.Close()
			continue
		}

		ev, err := h.svc.UploadEvidence(r.Context(), customerID(r), id, portal.EvidenceInput{
			FileName:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			ProtestID:   protestID,
			Body:        part,
		})
		part.Close()
		if err != nil {
			errorToHTTP(w, h.env, err)
			return
		}
		writeJSON(w, h.env, http.StatusCreated, ev)
		return
	}
}

// GetProtest handles GET /v1/protests/{protestID}.
func (h *PortalHandler) GetProtest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "protestID")
	if !ok {
		return
	}
	d, err := h.svc.Protest(r.Context(), customerID(r), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, d)
}

// ListDocuments handles GET /v1/documents.
func (h *PortalHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.Documents(r.Context(), customerID(r))
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, docs)
}

// DocumentContent streams a generated document.
// GET /v1/documents/{documentID}/content
func (h *PortalHandler) DocumentContent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "documentID")
	if !ok {
		return
	}
	doc, rc, obj, err := h.svc.DocumentContent(r.Context(), customerID(r), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	defer rc.Close()

	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": path.Base(doc.ObjectPath),
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.env.logger().Warn("streaming document", zap.String("document_id", id), zap.Error(err))
	}
}

// Billing handles GET /v1/billing.
func (h *PortalHandler) Billing(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Billing(r.Context(), customerID(r))
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, b)
}

// ListReferrals handles GET /v1/referrals.
func (h *PortalHandler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	refs, err := h.svc.Referrals(r.Context(), customerID(r))
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, refs)
}

// Invite records a refer-a-friend invitation.
// POST /v1/referrals
func (h *PortalHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var in portal.InviteInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	ref, err := h.svc.Invite(r.Context(), customerID(r), in)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusCreated, ref)
}
