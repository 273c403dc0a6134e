package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/protestdesk/internal/intake"
)

// IntakeHandler implements the public self-serve funnel.
type IntakeHandler struct {
	svc *intake.Service
	env Env
}

// NewIntakeHandler creates a new IntakeHandler.
func NewIntakeHandler(svc *intake.Service, env Env) *IntakeHandler {
	return &IntakeHandler{svc: svc, env: env}
}

// StartDraft opens a draft, prefilled from the landing page query.
// POST /v1/intake
func (h *IntakeHandler) StartDraft(w http.ResponseWriter, r *http.Request) {
	p, err := intake.PrefillFromQuery(r.URL.Query())
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	view, err := h.svc.Start(r.Context(), p)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusCreated, view)
}

// GetDraft handles GET /v1/intake/{draftID}.
func (h *IntakeHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "draftID")
	if !ok {
		return
	}
	view, err := h.svc.Get(r.Context(), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// SubmitStep handles POST /v1/intake/{draftID}/steps/{step}.
func (h *IntakeHandler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "draftID")
	if !ok {
		return
	}
	input, err := readRaw(w, r)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	view, err := h.svc.Step(r.Context(), id, chi.URLParam(r, "step"), input)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// PrevStep handles POST /v1/intake/{draftID}/prev.
func (h *IntakeHandler) PrevStep(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "draftID")
	if !ok {
		return
	}
	view, err := h.svc.Prev(r.Context(), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, view)
}

// Complete handles POST /v1/intake/{draftID}/complete.
func (h *IntakeHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "draftID")
	if !ok {
		return
	}
	res, err := h.svc.Complete(r.Context(), id)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, res)
}

// DiscardDraft handles DELETE /v1/intake/{draftID}.
func (h *IntakeHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, h.env, "draftID")
	if !ok {
		return
	}
	if err := h.svc.Discard(r.Context(), id); err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
