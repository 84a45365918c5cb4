// Package lifecycle implements archive/unarchive propagation over the
// project -> process -> task -> evidence tree. Archive cascades down to
// evidence and conditionally up to the parent when every sibling is
// archived; unarchive is always a one-level explicit operation.
package lifecycle

import (
	"context"
	"time"

	"github.com/trackline/platform/internal/shared/types"
)

// EntityKind identifies a level of the tree
type EntityKind string

const (
	EntityProject  EntityKind = "project"
	EntityProcess  EntityKind = "process"
	EntityTask     EntityKind = "task"
	EntityEvidence EntityKind = "evidence"
)

// Entity is the archive-relevant view of a tree node. ParentID is zero for
// projects and for orphaned nodes (an orphan mid-cascade is an inconsistent
// state and reported as such).
type Entity struct {
	Kind       EntityKind `json:"kind"`
	ID         types.ID   `json:"id"`
	ParentID   types.ID   `json:"parent_id,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchivedBy *types.ID  `json:"archived_by,omitempty"`
}

// Archived reports whether the entity is archived
func (e *Entity) Archived() bool {
	return e.ArchivedAt != nil
}

// CascadeArchived reports an archive that originated from a cascade rather
// than a direct user action (archivedAt set, archivedBy null).
func (e *Entity) CascadeArchived() bool {
	return e.ArchivedAt != nil && e.ArchivedBy == nil
}

// EntityStore is the persistence surface a cascade chain runs against. All
// reads reflect writes made earlier in the same chain; the store never
// caches archive state across calls.
type EntityStore interface {
	// Get loads an entity. NotFound when it does not exist.
	Get(ctx context.Context, kind EntityKind, id types.ID) (*Entity, error)

	// ListChildren returns the direct children of the given parent
	// (evidence under a task, tasks under a process, processes under a
	// project).
	ListChildren(ctx context.Context, parentKind EntityKind, parentID types.ID) ([]*Entity, error)

	// CountChildren returns total and archived child counts for the parent.
	CountChildren(ctx context.Context, parentKind EntityKind, parentID types.ID) (total int, archived int, err error)

	// SetArchived marks the entity archived. A nil archivedBy records a
	// system cascade rather than a user action.
	SetArchived(ctx context.Context, kind EntityKind, id types.ID, archivedAt time.Time, archivedBy *types.ID) error

	// ClearArchived resets both archive fields.
	ClearArchived(ctx context.Context, kind EntityKind, id types.ID) error

	// LockParent serializes concurrent check-and-archive sequences against
	// the same parent for the remainder of the surrounding transaction.
	LockParent(ctx context.Context, kind EntityKind, id types.ID) error
}

// Runner executes a cascade chain as one atomic unit. The store handed to
// the function sees its own writes; nothing is visible outside until the
// function returns nil.
type Runner interface {
	InTx(ctx context.Context, fn func(EntityStore) error) error
}
