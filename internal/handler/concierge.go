package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/protestdesk/internal/concierge"
)

// ConciergeHandler implements the staff-assisted wizard. Every route needs
// an X-Actor header naming the staff member; drafts are only visible to the
// staff member who opened them.
type ConciergeHandler struct {
	svc *concierge.Service
	env Env
}

// NewConciergeHandler creates a new ConciergeHandler.
func NewConciergeHandler(svc *concierge.Service, env Env) *ConciergeHandler {
	return &ConciergeHandler{svc: svc, env: env}
}

// StartDraft handles POST /v1/concierge.
func (h *ConciergeHandler) StartDraft(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r, h.env)
	if !ok {
		return
	}
	view, err := h.svc.Start(r.Context(), audit.Actor)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusCreated, view)
}

// draftRequest resolves the actor and draft id shared by the draft routes.
func (h *ConciergeHandler) draftRequest(w http.ResponseWriter, r *http.Request) (staffID, draftID string, ok bool) {
	audit, ok := parseAuditContext(w, r, h.env)
	if !ok {
		return "", "", false
	}
	id, ok := parseUUID(w, r, h.env, "draftID")
	if !ok {
		return "", "", false
	}
	return audit.Actor, id, true
}

// GetDraft handles GET /v1/concierge/{draftID}.
func (h *ConciergeHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	staff, id, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Get(r.Context(), id, staff)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// Search looks up an existing customer by email.
// POST /v1/concierge/{draftID}/search
func (h *ConciergeHandler) Search(w http.ResponseWriter, r *http.Request) {
	staff, id, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	res, view, err := h.svc.SearchDraft(r.Context(), id, staff, req.Email)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, struct {
		Result concierge.SearchResult `json:"result"`
		Draft  concierge.View         `json:"draft"`
	}{res, view})
}

// CreateNew switches the draft to a new customer.
// POST /v1/concierge/{draftID}/create-new
func (h *ConciergeHandler) CreateNew(w http.ResponseWriter, r *http.Request) {
	staff, id, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	view, err := h.svc.CreateNewDraft(r.Context(), id, staff)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// SubmitStep handles POST /v1/concierge/{draftID}/steps/{step}.
func (h *ConciergeHandler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	staff, id, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	input, err := readRaw(w, r)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	view, err := h.svc.Step(r.Context(), id, staff, chi.URLParam(r, "step"), input)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// PrevStep handles POST /v1/concierge/{draftID}/prev.
func (h *ConciergeHandler) PrevStep(w http.ResponseWriter, r *http.Request) {
	staff, id, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Prev(r.Context(), id, staff)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// Complete handles POST /v1/concierge/{draftID}/complete.
func (h *ConciergeHandler) Complete(w http.ResponseWriter, r *http.Request) {
	staff, id, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Complete(r.Context(), id, staff)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, res)
}
