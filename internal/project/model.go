package project

import (
	"time"

	"github.com/trackline/platform/internal/shared/types"
)

// ProjectStatus defines the status of a project
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCompleted ProjectStatus = "completed"
)

// TaskStatus defines the status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether the status is one of the known task statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusReview,
		TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// Project belongs to a category (the path up to its owning area) and/or a
// unit. Both links are optional; a project without a category has no owning
// area and area-scoped permissions never match it.
type Project struct {
	ID         types.ID      `json:"id"`
	CategoryID *types.ID     `json:"category_id,omitempty"`
	UnitID     *types.ID     `json:"unit_id,omitempty"`
	Name       string        `json:"name"`
	Status     ProjectStatus `json:"status"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchivedBy *types.ID  `json:"archived_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archived reports whether the project is archived
func (p *Project) Archived() bool { return p.ArchivedAt != nil }

// Process belongs to exactly one project
type Process struct {
	ID        types.ID `json:"id"`
	ProjectID types.ID `json:"project_id"`
	Name      string   `json:"name"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchivedBy *types.ID  `json:"archived_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archived reports whether the process is archived
func (p *Process) Archived() bool { return p.ArchivedAt != nil }

// Task belongs to exactly one process
type Task struct {
	ID        types.ID   `json:"id"`
	ProcessID types.ID   `json:"process_id"`
	Title     string     `json:"title"`
	Status    TaskStatus `json:"status"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchivedBy *types.ID  `json:"archived_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archived reports whether the task is archived
func (t *Task) Archived() bool { return t.ArchivedAt != nil }

// Evidence belongs to exactly one task
type Evidence struct {
	ID      types.ID `json:"id"`
	TaskID  types.ID `json:"task_id"`
	Name    string   `json:"name"`
	FileURL string   `json:"file_url,omitempty"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchivedBy *types.ID  `json:"archived_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Archived reports whether the evidence is archived
func (e *Evidence) Archived() bool { return e.ArchivedAt != nil }

// CreateProjectRequest is the request to create a project
type CreateProjectRequest struct {
	Name       string    `json:"name"`
	CategoryID *types.ID `json:"category_id,omitempty"`
	UnitID     *types.ID `json:"unit_id,omitempty"`
}

// UpdateProjectRequest is the request to update a project
type UpdateProjectRequest struct {
	Name       *string        `json:"name,omitempty"`
	CategoryID *types.ID      `json:"category_id,omitempty"`
	UnitID     *types.ID      `json:"unit_id,omitempty"`
	Status     *ProjectStatus `json:"status,omitempty"`
}

// CreateProcessRequest is the request to create a process under a project
type CreateProcessRequest struct {
	Name string `json:"name"`
}

// CreateTaskRequest is the request to create a task under a process
type CreateTaskRequest struct {
	Title  string     `json:"title"`
	Status TaskStatus `json:"status,omitempty"`
}

// UpdateTaskRequest is the request to update a task
type UpdateTaskRequest struct {
	Title  *string     `json:"title,omitempty"`
	Status *TaskStatus `json:"status,omitempty"`
}

// CreateEvidenceRequest is the request to attach evidence to a task
type CreateEvidenceRequest struct {
	Name    string `json:"name"`
	FileURL string `json:"file_url,omitempty"`
}

// ArchiveRequest carries the options of an archive/unarchive action.
// Cascade selects the WithTasks/WithProcesses/WithEvidences variant where
// the level supports one.
type ArchiveRequest struct {
	Cascade bool `json:"cascade,omitempty"`
}

// ListProjectsFilter defines filters for listing projects
type ListProjectsFilter struct {
	CategoryID      *types.ID      `json:"category_id,omitempty"`
	UnitID          *types.ID      `json:"unit_id,omitempty"`
	Status          *ProjectStatus `json:"status,omitempty"`
	IncludeArchived bool           `json:"include_archived,omitempty"`
	Search          string         `json:"search,omitempty"`
	Limit           int            `json:"limit,omitempty"`
	Offset          int            `json:"offset,omitempty"`
}
