package org

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trackline/platform/internal/audit"
	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/notification"
	"github.com/trackline/platform/internal/shared/auth"
	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the org module. Every membership
// mutation synchronously re-derives the affected user's role label.
type Handler struct {
	repo     *Repository
	promoter *authz.Promoter
	sink     *audit.Sink
	notifier *notification.Service
}

// NewHandler creates a new org handler
func NewHandler(repo *Repository, promoter *authz.Promoter, sink *audit.Sink, notifier *notification.Service) *Handler {
	return &Handler{repo: repo, promoter: promoter, sink: sink, notifier: notifier}
}

// Routes registers the org routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/areas", func(r chi.Router) {
		r.Get("/", h.ListAreas)
		r.Post("/", h.CreateArea)

		r.Route("/{areaID}", func(r chi.Router) {
			r.Get("/", h.GetArea)
			r.Put("/", h.UpdateArea)
			r.Delete("/", h.DeleteArea)

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", h.ListCategories)
				r.Post("/", h.CreateCategory)
			})
		})
	})

	r.Route("/units", func(r chi.Router) {
		r.Get("/", h.ListUnits)
		r.Post("/", h.CreateUnit)

		r.Route("/{unitID}", func(r chi.Router) {
			r.Get("/", h.GetUnit)
			r.Delete("/", h.DeleteUnit)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)
		r.Get("/{userID}", h.GetUser)
	})

	r.Route("/memberships", func(r chi.Router) {
		r.Get("/", h.ListMemberships)
		r.Post("/", h.CreateMembership)
		r.Delete("/{membershipID}", h.DeleteMembership)
	})

	return r
}

// --- Area handlers ---

// ListAreas lists all areas
func (h *Handler) ListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.repo.ListAreas(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": areas})
}

// GetArea gets an area by ID
func (h *Handler) GetArea(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid area ID"))
		return
	}

	area, err := h.repo.GetArea(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, area)
}

// CreateArea creates a new area
func (h *Handler) CreateArea(w http.ResponseWriter, r *http.Request) {
	var req CreateAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"name": "name is required",
		}))
		return
	}

	area := &Area{
		ID:          types.NewID(),
		Name:        req.Name,
		Description: req.Description,
	}

	if err := h.repo.CreateArea(r.Context(), area); err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionAreaCreated, "area", &area.ID,
		map[string]any{"name": area.Name},
	))

	writeJSON(w, http.StatusCreated, area)
}

// UpdateArea updates an area
func (h *Handler) UpdateArea(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid area ID"))
		return
	}

	area, err := h.repo.GetArea(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name != nil {
		area.Name = *req.Name
	}
	if req.Description != nil {
		area.Description = *req.Description
	}

	if err := h.repo.UpdateArea(r.Context(), area); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, area)
}

// DeleteArea deletes an area
func (h *Handler) DeleteArea(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid area ID"))
		return
	}

	if err := h.repo.DeleteArea(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionAreaDeleted, "area", &id, nil,
	))

	w.WriteHeader(http.StatusNoContent)
}

// --- Category handlers ---

// ListCategories lists the categories of an area
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	areaID, err := types.ParseID(chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid area ID"))
		return
	}

	categories, err := h.repo.ListCategories(r.Context(), areaID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": categories})
}

// CreateCategory creates a new category under an area
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	areaID, err := types.ParseID(chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid area ID"))
		return
	}

	var req CreateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"name": "name is required",
		}))
		return
	}

	category := &Category{
		ID:     types.NewID(),
		AreaID: areaID,
		Name:   req.Name,
	}

	if err := h.repo.CreateCategory(r.Context(), category); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, category)
}

// --- Unit handlers ---

// ListUnits lists all units
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.repo.ListUnits(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": units})
}

// GetUnit gets a unit by ID
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid unit ID"))
		return
	}

	unit, err := h.repo.GetUnit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, unit)
}

// CreateUnit creates a new unit
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"name": "name is required",
		}))
		return
	}

	unit := &Unit{ID: types.NewID(), Name: req.Name}

	if err := h.repo.CreateUnit(r.Context(), unit); err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionUnitCreated, "unit", &unit.ID,
		map[string]any{"name": unit.Name},
	))

	writeJSON(w, http.StatusCreated, unit)
}

// DeleteUnit deletes a unit
func (h *Handler) DeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid unit ID"))
		return
	}

	if err := h.repo.DeleteUnit(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionUnitDeleted, "unit", &id, nil,
	))

	w.WriteHeader(http.StatusNoContent)
}

// --- User handlers ---

// ListUsers lists users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, total, err := h.repo.ListUsers(r.Context(), r.URL.Query().Get("search"), 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  users,
		"total": total,
	})
}

// GetUser gets a user by ID
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	user, err := h.repo.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// CreateUser creates a new user with the base role label
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Email == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"email": "email is required",
		}))
		return
	}

	user := &User{
		ID:          types.NewID(),
		Email:       req.Email,
		DisplayName: req.DisplayName,
		SystemRole:  authz.RoleUser,
	}

	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionUserCreated, "user", &user.ID,
		map[string]any{"email": user.Email},
	))

	writeJSON(w, http.StatusCreated, user)
}

// --- Membership handlers ---

// ListMemberships lists memberships with optional filters
func (h *Handler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	var filter ListMembershipsFilter

	if s := r.URL.Query().Get("kind"); s != "" {
		kind := MembershipKind(s)
		if !kind.Valid() {
			writeError(w, errors.BadRequest("invalid membership kind"))
			return
		}
		filter.Kind = &kind
	}

	if s := r.URL.Query().Get("user_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid user_id"))
			return
		}
		filter.UserID = &id
	}

	if s := r.URL.Query().Get("target_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid target_id"))
			return
		}
		filter.TargetID = &id
	}

	memberships, total, err := h.repo.ListMemberships(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  memberships,
		"total": total,
	})
}

// CreateMembership grants a membership and re-derives the user's role label
// from the post-mutation membership set.
func (h *Handler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	var req CreateMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if !req.Kind.Valid() {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"kind": "kind must be one of area_admin, area_member, unit_member, project_member, task_member",
		}))
		return
	}
	if req.UserID.IsZero() || req.TargetID.IsZero() {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"user_id":   "user_id is required",
			"target_id": "target_id is required",
		}))
		return
	}

	m := &Membership{
		ID:       types.NewID(),
		Kind:     req.Kind,
		UserID:   req.UserID,
		TargetID: req.TargetID,
	}

	if err := h.repo.CreateMembership(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}

	label, err := h.promoter.Promote(r.Context(), m.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionMembershipGranted, "membership", &m.ID,
		map[string]any{
			"kind":      string(m.Kind),
			"user_id":   m.UserID.String(),
			"target_id": m.TargetID.String(),
			"role":      string(label),
		},
	))
	h.notifier.Enqueue(notification.NewMembershipNotification(m.UserID, string(m.Kind), m.TargetID, true))

	writeJSON(w, http.StatusCreated, map[string]any{
		"membership":  m,
		"system_role": label,
	})
}

// DeleteMembership revokes a membership and re-derives the user's role label
func (h *Handler) DeleteMembership(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "membershipID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid membership ID"))
		return
	}

	m, err := h.repo.GetMembership(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.DeleteMembership(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	label, err := h.promoter.Promote(r.Context(), m.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actorID(r), audit.ActionMembershipRevoked, "membership", &id,
		map[string]any{
			"kind":      string(m.Kind),
			"user_id":   m.UserID.String(),
			"target_id": m.TargetID.String(),
			"role":      string(label),
		},
	))
	h.notifier.Enqueue(notification.NewMembershipNotification(m.UserID, string(m.Kind), m.TargetID, false))

	writeJSON(w, http.StatusOK, map[string]any{"system_role": label})
}

// --- Helpers ---

func actorID(r *http.Request) types.ID {
	if user := auth.GetUser(r.Context()); user != nil {
		return user.ID
	}
	return types.ID("")
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
