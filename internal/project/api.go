package project

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trackline/platform/internal/audit"
	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/lifecycle"
	"github.com/trackline/platform/internal/notification"
	"github.com/trackline/platform/internal/shared/auth"
	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the project tree. Every request is
// checked through the authorization facade before it touches the tree;
// archive actions then go through the cascader, which owns the propagation
// rules.
type Handler struct {
	repo     *Repository
	authz    *authz.Authorizer
	cascader *lifecycle.Cascader
	sink     *audit.Sink
	notifier *notification.Service
}

// NewHandler creates a new project handler
func NewHandler(repo *Repository, authorizer *authz.Authorizer, cascader *lifecycle.Cascader, sink *audit.Sink, notifier *notification.Service) *Handler {
	return &Handler{repo: repo, authz: authorizer, cascader: cascader, sink: sink, notifier: notifier}
}

// Routes registers the project routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.ListProjects)
		r.Post("/", h.CreateProject)

		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", h.GetProject)
			r.Put("/", h.UpdateProject)
			r.Post("/archive", h.ArchiveProject)
			r.Post("/unarchive", h.UnarchiveProject)

			r.Route("/processes", func(r chi.Router) {
				r.Get("/", h.ListProcesses)
				r.Post("/", h.CreateProcess)
			})
		})
	})

	r.Route("/processes/{processID}", func(r chi.Router) {
		r.Get("/", h.GetProcess)
		r.Post("/archive", h.ArchiveProcess)
		r.Post("/unarchive", h.UnarchiveProcess)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
		})
	})

	r.Route("/tasks/{taskID}", func(r chi.Router) {
		r.Get("/", h.GetTask)
		r.Put("/", h.UpdateTask)
		r.Post("/archive", h.ArchiveTask)
		r.Post("/unarchive", h.UnarchiveTask)

		r.Route("/evidences", func(r chi.Router) {
			r.Get("/", h.ListEvidences)
			r.Post("/", h.CreateEvidence)
		})
	})

	return r
}

// --- Project handlers ---

// ListProjects lists projects with optional filters
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	filter := ListProjectsFilter{
		Search:          r.URL.Query().Get("search"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}

	if s := r.URL.Query().Get("category_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid category_id"))
			return
		}
		filter.CategoryID = &id
	}

	if s := r.URL.Query().Get("unit_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid unit_id"))
			return
		}
		filter.UnitID = &id
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := ProjectStatus(s)
		filter.Status = &status
	}

	projects, total, err := h.repo.ListProjects(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  projects,
		"total": total,
	})
}

// CreateProject creates a new project
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
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

	project := &Project{
		ID:         types.NewID(),
		CategoryID: req.CategoryID,
		UnitID:     req.UnitID,
		Name:       req.Name,
		Status:     ProjectStatusActive,
	}

	if err := h.repo.CreateProject(r.Context(), project); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// GetProject gets a project by ID
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid project ID"))
		return
	}

	if err := h.authz.RequireProjectAction(r.Context(), actorID(r), id, authz.ActionView); err != nil {
		writeError(w, err)
		return
	}

	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// UpdateProject updates a project
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid project ID"))
		return
	}

	if err := h.authz.RequireProjectAction(r.Context(), actorID(r), id, authz.ActionEdit); err != nil {
		writeError(w, err)
		return
	}

	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.CategoryID != nil {
		project.CategoryID = req.CategoryID
	}
	if req.UnitID != nil {
		project.UnitID = req.UnitID
	}
	if req.Status != nil {
		project.Status = *req.Status
	}

	if err := h.repo.UpdateProject(r.Context(), project); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// ArchiveProject archives a project. With cascade, every active process and
// its tasks are archived with the system marker first.
func (h *Handler) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid project ID"))
		return
	}

	actor := actorID(r)
	if err := h.authz.RequireProjectAction(r.Context(), actor, id, authz.ActionArchive); err != nil {
		writeError(w, err)
		return
	}

	req := decodeArchiveRequest(r)

	var out *lifecycle.Entity
	if req.Cascade {
		out, err = h.cascader.ArchiveProjectWithProcesses(r.Context(), id, actor)
	} else {
		out, err = h.cascader.ArchiveProject(r.Context(), id, actor)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actor, audit.ActionProjectArchived, "project", &id,
		map[string]any{"cascade": req.Cascade},
	))
	h.notifier.Enqueue(notification.NewArchiveNotification("project", id, actor, true))

	writeJSON(w, http.StatusOK, out)
}

// UnarchiveProject restores a project. One level only: processes below stay
// as they are.
func (h *Handler) UnarchiveProject(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid project ID"))
		return
	}

	actor := actorID(r)
	if err := h.authz.RequireProjectAction(r.Context(), actor, id, authz.ActionReactivate); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.cascader.UnarchiveProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actor, audit.ActionProjectUnarchived, "project", &id, nil,
	))
	h.notifier.Enqueue(notification.NewArchiveNotification("project", id, actor, false))

	writeJSON(w, http.StatusOK, out)
}

// --- Process handlers ---

// ListProcesses lists the processes of a project
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	projectID, err := types.ParseID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid project ID"))
		return
	}

	if err := h.authz.RequireProjectAction(r.Context(), actorID(r), projectID, authz.ActionList); err != nil {
		writeError(w, err)
		return
	}

	processes, err := h.repo.ListProcesses(r.Context(), projectID, r.URL.Query().Get("include_archived") == "true")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": processes})
}

// CreateProcess creates a new process under a project
func (h *Handler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	projectID, err := types.ParseID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid project ID"))
		return
	}

	if err := h.authz.RequireProjectAction(r.Context(), actorID(r), projectID, authz.ActionEdit); err != nil {
		writeError(w, err)
		return
	}

	var req CreateProcessRequest
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

	process := &Process{
		ID:        types.NewID(),
		ProjectID: projectID,
		Name:      req.Name,
	}

	if err := h.repo.CreateProcess(r.Context(), process); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, process)
}

// GetProcess gets a process by ID
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "processID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid process ID"))
		return
	}

	if err := h.authz.RequireProcessAction(r.Context(), actorID(r), id, authz.ActionView); err != nil {
		writeError(w, err)
		return
	}

	process, err := h.repo.GetProcess(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, process)
}

// ArchiveProcess archives a process. With cascade, active tasks and their
// evidence are archived with the system marker; without it, only the process
// itself is stamped.
func (h *Handler) ArchiveProcess(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "processID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid process ID"))
		return
	}

	actor := actorID(r)
	if err := h.authz.RequireProcessAction(r.Context(), actor, id, authz.ActionArchive); err != nil {
		writeError(w, err)
		return
	}

	req := decodeArchiveRequest(r)

	var out *lifecycle.Entity
	if req.Cascade {
		out, err = h.cascader.ArchiveProcessWithTasks(r.Context(), id, actor)
	} else {
		out, err = h.cascader.ArchiveProcessOnly(r.Context(), id, actor)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actor, audit.ActionProcessArchived, "process", &id,
		map[string]any{"cascade": req.Cascade},
	))
	h.notifier.Enqueue(notification.NewArchiveNotification("process", id, actor, true))

	writeJSON(w, http.StatusOK, out)
}

// UnarchiveProcess restores a process, optionally with its tasks
func (h *Handler) UnarchiveProcess(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "processID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid process ID"))
		return
	}

	actor := actorID(r)
	if err := h.authz.RequireProcessAction(r.Context(), actor, id, authz.ActionReactivate); err != nil {
		writeError(w, err)
		return
	}

	req := decodeArchiveRequest(r)

	var out *lifecycle.Entity
	if req.Cascade {
		out, err = h.cascader.UnarchiveProcessWithTasks(r.Context(), id)
	} else {
		out, err = h.cascader.UnarchiveProcess(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actor, audit.ActionProcessUnarchived, "process", &id,
		map[string]any{"cascade": req.Cascade},
	))
	h.notifier.Enqueue(notification.NewArchiveNotification("process", id, actor, false))

	writeJSON(w, http.StatusOK, out)
}

// --- Task handlers ---

// ListTasks lists the tasks of a process
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	processID, err := types.ParseID(chi.URLParam(r, "processID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid process ID"))
		return
	}

	if err := h.authz.RequireProcessAction(r.Context(), actorID(r), processID, authz.ActionList); err != nil {
		writeError(w, err)
		return
	}

	tasks, err := h.repo.ListTasks(r.Context(), processID, r.URL.Query().Get("include_archived") == "true")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": tasks})
}

// CreateTask creates a new task under a process
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	processID, err := types.ParseID(chi.URLParam(r, "processID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid process ID"))
		return
	}

	if err := h.authz.RequireProcessAction(r.Context(), actorID(r), processID, authz.ActionEdit); err != nil {
		writeError(w, err)
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Title == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"title": "title is required",
		}))
		return
	}

	status := req.Status
	if status == "" {
		status = TaskStatusPending
	}
	if !status.Valid() {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"status": "status must be one of pending, in_progress, review, completed, cancelled",
		}))
		return
	}

	task := &Task{
		ID:        types.NewID(),
		ProcessID: processID,
		Title:     req.Title,
		Status:    status,
	}

	if err := h.repo.CreateTask(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// GetTask gets a task by ID
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return
	}

	if err := h.authz.RequireTaskAction(r.Context(), actorID(r), id, authz.ActionView); err != nil {
		writeError(w, err)
		return
	}

	task, err := h.repo.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// UpdateTask updates a task
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return
	}

	if err := h.authz.RequireTaskAction(r.Context(), actorID(r), id, authz.ActionEdit); err != nil {
		writeError(w, err)
		return
	}

	task, err := h.repo.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			writeError(w, errors.Validation("validation failed", map[string]string{
				"status": "status must be one of pending, in_progress, review, completed, cancelled",
			}))
			return
		}
		task.Status = *req.Status
	}

	if err := h.repo.UpdateTask(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// ArchiveTask archives a task. Its evidence is always archived with it, and
// the parent process may auto-archive when this was its last active task.
func (h *Handler) ArchiveTask(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return
	}

	actor := actorID(r)
	if err := h.authz.RequireTaskAction(r.Context(), actor, id, authz.ActionArchive); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.cascader.ArchiveTask(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actor, audit.ActionTaskArchived, "task", &id, nil,
	))
	h.notifier.Enqueue(notification.NewArchiveNotification("task", id, actor, true))

	writeJSON(w, http.StatusOK, out)
}

// UnarchiveTask restores a task. With cascade, archived evidence under it is
// restored as well; parents are never auto-unarchived.
func (h *Handler) UnarchiveTask(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return
	}

	actor := actorID(r)
	if err := h.authz.RequireTaskAction(r.Context(), actor, id, authz.ActionReactivate); err != nil {
		writeError(w, err)
		return
	}

	req := decodeArchiveRequest(r)

	var out *lifecycle.Entity
	if req.Cascade {
		out, err = h.cascader.UnarchiveTaskWithEvidences(r.Context(), id)
	} else {
		out, err = h.cascader.UnarchiveTask(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.sink.Record(r.Context(), audit.NewEntry(
		audit.ActorTypeUser, actor, audit.ActionTaskUnarchived, "task", &id,
		map[string]any{"cascade": req.Cascade},
	))
	h.notifier.Enqueue(notification.NewArchiveNotification("task", id, actor, false))

	writeJSON(w, http.StatusOK, out)
}

// --- Evidence handlers ---

// ListEvidences lists the evidence rows of a task
func (h *Handler) ListEvidences(w http.ResponseWriter, r *http.Request) {
	taskID, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return
	}

	if err := h.authz.RequireTaskAction(r.Context(), actorID(r), taskID, authz.ActionView); err != nil {
		writeError(w, err)
		return
	}

	evidences, err := h.repo.ListEvidences(r.Context(), taskID, r.URL.Query().Get("include_archived") == "true")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": evidences})
}

// CreateEvidence attaches evidence to a task
func (h *Handler) CreateEvidence(w http.ResponseWriter, r *http.Request) {
	taskID, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return
	}

	if err := h.authz.RequireTaskAction(r.Context(), actorID(r), taskID, authz.ActionEdit); err != nil {
		writeError(w, err)
		return
	}

	var req CreateEvidenceRequest
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

	evidence := &Evidence{
		ID:      types.NewID(),
		TaskID:  taskID,
		Name:    req.Name,
		FileURL: req.FileURL,
	}

	if err := h.repo.CreateEvidence(r.Context(), evidence); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, evidence)
}

// --- Helpers ---

func decodeArchiveRequest(r *http.Request) ArchiveRequest {
	var req ArchiveRequest
	// An empty body means no cascade; decode errors fall back to defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

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
