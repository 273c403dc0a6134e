package handler

import (
	"net/http"

	"github.com/matthewbaird/protestdesk/internal/auth"
)

// AuthHandler bootstraps portal sessions.
type AuthHandler struct {
	svc *auth.Service
	env Env
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *auth.Service, env Env) *AuthHandler {
	return &AuthHandler{svc: svc, env: env}
}

// Session validates a stored session, refreshing it when the access token
// has expired.
// POST /v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	if req.AccessToken == "" {
		writeError(w, h.env, http.StatusBadRequest, "MISSING_PARAMS", "access_token is required")
		return
	}
	sess, err := h.svc.Resume(r.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, sess)
}

// PortalLink trades the emailed portal link for a session.
// GET /v1/auth/portal?email=&token=
func (h *AuthHandler) PortalLink(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	token := r.URL.Query().Get("token")
	if email == "" || token == "" {
		writeError(w, h.env, http.StatusBadRequest, "MISSING_PARAMS", "email and token are required")
		return
	}
	sess, err := h.svc.PortalLogin(r.Context(), email, token)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, sess)
}
