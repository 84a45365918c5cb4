package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the audit module
type Handler struct {
	repo Repository
}

// NewHandler creates a new audit handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)
	r.Get("/stats", h.Stats)
	r.Get("/resource/{resourceType}/{resourceID}", h.GetByResource)
	r.Get("/{entryID}", h.GetEntry)

	return r
}

// ListEntries lists audit entries with filters
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := ListEntriesFilter{
		Action:       r.URL.Query().Get("action"),
		ResourceType: r.URL.Query().Get("resource_type"),
	}

	if s := r.URL.Query().Get("actor_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid actor_id"))
			return
		}
		filter.ActorID = &id
	}

	if s := r.URL.Query().Get("resource_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid resource_id"))
			return
		}
		filter.ResourceID = &id
	}

	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid start time"))
			return
		}
		filter.StartTime = &t
	}

	if s := r.URL.Query().Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid end time"))
			return
		}
		filter.EndTime = &t
	}

	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}

	entries, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
	})
}

// GetEntry gets an audit entry by ID
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid entry ID"))
		return
	}

	entry, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// GetByResource lists audit entries for a specific resource
func (h *Handler) GetByResource(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "resourceType")

	resourceID, err := types.ParseID(chi.URLParam(r, "resourceID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid resource ID"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := h.repo.GetByResource(r.Context(), resourceType, resourceID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// VerifyChain verifies the integrity of the audit chain
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}

	includeDetails := r.URL.Query().Get("details") == "true"

	result, err := h.repo.VerifyChain(r.Context(), limit, includeDetails)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Stats returns audit chain statistics
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.repo.Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":     count,
		"sequence":  h.repo.GetSequence(),
		"last_hash": h.repo.GetLastHash(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
