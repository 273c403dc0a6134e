package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// entityTypes are the entities activity is indexed under.
var entityTypes = map[string]bool{
	"owner": true, "property": true, "application": true, "protest": true,
	"evidence_upload": true, "customer_document": true, "referral": true,
}

// ActivityHandler serves the staff view of activity streams. Customers read
// their own property streams through the portal.
type ActivityHandler struct {
	store activity.Store
	env   Env
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(store activity.Store, env Env) *ActivityHandler {
	return &ActivityHandler{store: store, env: env}
}

type activityResponse struct {
	Activities []types.ActivityEntry `json:"activities"`
	NextCursor string                `json:"next_cursor,omitempty"`
	TotalCount int                   `json:"total_count"`
	Period     struct {
		Since time.Time `json:"since"`
		Until time.Time `json:"until"`
	} `json:"period"`
}

// parseActivityQuery reads since, until, categories, min_weight, limit and
// cursor. Unparseable values fall back to the defaults.
func parseActivityQuery(r *http.Request) activity.QueryOptions {
	q := r.URL.Query()
	opts := activity.DefaultQueryOptions()
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Since = &t
		}
	}
	if u := q.Get("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			opts.Until = &t
		}
	}
	if cats := q.Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if mw := q.Get("min_weight"); mw != "" {
		opts.MinWeight = mw
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = min(n, 500)
		}
	}
	opts.Cursor = q.Get("cursor")
	return opts
}

func newActivityResponse(entries []types.ActivityEntry, nextCursor string, total int, opts activity.QueryOptions) activityResponse {
	resp := activityResponse{
		Activities: entries,
		NextCursor: nextCursor,
		TotalCount: total,
	}
	if opts.Since != nil {
		resp.Period.Since = *opts.Since
	}
	if opts.Until != nil {
		resp.Period.Until = *opts.Until
	}
	if resp.Activities == nil {
		resp.Activities = []types.ActivityEntry{}
	}
	return resp
}

// HandleGetEntityActivity returns a chronological activity feed for any entity.
// GET /v1/activity/entity/{entity_type}/{entity_id}
func (h *ActivityHandler) HandleGetEntityActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseAuditContext(w, r, h.env); !ok {
		return
	}
	entityType := chi.URLParam(r, "entity_type")
	entityID := chi.URLParam(r, "entity_id")
	if !entityTypes[entityType] || entityID == "" {
		writeError(w, h.env, http.StatusBadRequest, "MISSING_PARAMS", "a known entity_type and an entity_id are required")
		return
	}

	opts := parseActivityQuery(r)
	entries, nextCursor, totalCount, err := h.store.QueryByEntity(r.Context(), entityType, entityID, opts)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	writeJSON(w, h.env, http.StatusOK, newActivityResponse(entries, nextCursor, totalCount, opts))
}

// HandleSearchActivity performs a substring search across activity summaries.
// POST /v1/activity/search
func (h *ActivityHandler) HandleSearchActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseAuditContext(w, r, h.env); !ok {
		return
	}
	var req struct {
		Query      string   `json:"query"`
		EntityType string   `json:"entity_type,omitempty"`
		Since      string   `json:"since,omitempty"`
		Categories []string `json:"categories,omitempty"`
		Limit      int      `json:"limit,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.env, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, h.env, http.StatusBadRequest, "MISSING_PARAMS", "query is required")
		return
	}

	opts := activity.DefaultSearchOptions()
	opts.EntityType = req.EntityType
	opts.Categories = req.Categories
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Since != "" {
		if t, err := time.Parse(time.RFC3339, req.Since); err == nil {
			opts.Since = &t
		}
	}

	entries, totalCount, err := h.store.Search(r.Context(), req.Query, opts)
	if err != nil {
		errorToHTTP(w, h.env, err)
		return
	}
	resp := struct {
		Results    []types.ActivityEntry `json:"results"`
		TotalCount int                   `json:"total_count"`
	}{
		Results:    entries,
		TotalCount: totalCount,
	}
	if resp.Results == nil {
		resp.Results = []types.ActivityEntry{}
	}
	writeJSON(w, h.env, http.StatusOK, resp)
}
