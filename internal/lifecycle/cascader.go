package lifecycle

import (
	"context"
	"time"

	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/metrics"
	"github.com/trackline/platform/internal/shared/types"
)

// Cascader determines and applies the cascade set of an archive or
// unarchive operation. Every exported operation runs its whole chain in a
// single transaction, in documented order (evidence, task, process check,
// project check), so each conditional check reads the post-write state of
// its child level.
type Cascader struct {
	run Runner
	now func() time.Time
}

// NewCascader creates a cascader over the given transaction runner
func NewCascader(run Runner) *Cascader {
	return &Cascader{run: run, now: time.Now}
}

// ArchiveTask archives the task, cascading to its evidence first and then
// conditionally up to the process and project. Evidence rows get a null
// archivedBy (cascade marker); the task records the actor. A zero actorID
// records a system-originated archive.
func (c *Cascader) ArchiveTask(ctx context.Context, taskID, actorID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		task, err := s.Get(ctx, EntityTask, taskID)
		if err != nil {
			return err
		}
		if task.Archived() {
			return errors.PreconditionFailed("task is already archived")
		}
		if task.ParentID.IsZero() {
			return errors.InconsistentState("task " + taskID.String() + " has no owning process")
		}
		if err := s.LockParent(ctx, EntityProcess, task.ParentID); err != nil {
			return err
		}
		if err := c.archiveTask(ctx, s, task, actorID); err != nil {
			return err
		}
		if err := c.checkAndArchiveProcess(ctx, s, task.ParentID); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityTask, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("task", "archive")
	return out, nil
}

// UnarchiveTask clears the task's archive fields only. Its evidence stays
// archived and its process is never auto-unarchived, even when the process
// was archived as a consequence of this task.
func (c *Cascader) UnarchiveTask(ctx context.Context, taskID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		task, err := s.Get(ctx, EntityTask, taskID)
		if err != nil {
			return err
		}
		if !task.Archived() {
			return errors.PreconditionFailed("task is not archived")
		}
		if err := s.ClearArchived(ctx, EntityTask, taskID); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityTask, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("task", "unarchive")
	return out, nil
}

// UnarchiveTaskWithEvidences clears the task's archive fields and those of
// every archived evidence row under it. Callers choose this variant
// explicitly; UnarchiveTask never touches evidence.
func (c *Cascader) UnarchiveTaskWithEvidences(ctx context.Context, taskID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		task, err := s.Get(ctx, EntityTask, taskID)
		if err != nil {
			return err
		}
		if !task.Archived() {
			return errors.PreconditionFailed("task is not archived")
		}
		if err := s.ClearArchived(ctx, EntityTask, taskID); err != nil {
			return err
		}
		evidences, err := s.ListChildren(ctx, EntityTask, taskID)
		if err != nil {
			return err
		}
		for _, ev := range evidences {
			if !ev.Archived() {
				continue
			}
			if err := s.ClearArchived(ctx, EntityEvidence, ev.ID); err != nil {
				return err
			}
		}
		out, err = s.Get(ctx, EntityTask, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("task", "unarchive")
	return out, nil
}

// ArchiveProcessOnly archives just the process, assuming its tasks are
// already consistent. Used by the direct-archive path when tasks were
// handled separately, and followed by the project auto-archive check.
func (c *Cascader) ArchiveProcessOnly(ctx context.Context, processID, actorID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		process, err := s.Get(ctx, EntityProcess, processID)
		if err != nil {
			return err
		}
		if process.Archived() {
			return errors.PreconditionFailed("process is already archived")
		}
		if process.ParentID.IsZero() {
			return errors.InconsistentState("process " + processID.String() + " has no owning project")
		}
		if err := s.SetArchived(ctx, EntityProcess, processID, c.now(), idPtr(actorID)); err != nil {
			return err
		}
		if err := c.checkAndArchiveProject(ctx, s, process.ParentID); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityProcess, processID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("process", "archive")
	return out, nil
}

// ArchiveProcessWithTasks archives every active task under the process
// (cascading each task's evidence) and then the process itself with the
// actor recorded. The per-task parent recheck is suppressed; the process is
// being archived by this very operation.
func (c *Cascader) ArchiveProcessWithTasks(ctx context.Context, processID, actorID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		process, err := s.Get(ctx, EntityProcess, processID)
		if err != nil {
			return err
		}
		if process.Archived() {
			return errors.PreconditionFailed("process is already archived")
		}
		if process.ParentID.IsZero() {
			return errors.InconsistentState("process " + processID.String() + " has no owning project")
		}
		if err := s.LockParent(ctx, EntityProcess, processID); err != nil {
			return err
		}
		if err := c.archiveProcessWithTasks(ctx, s, process, idPtr(actorID)); err != nil {
			return err
		}
		if err := c.checkAndArchiveProject(ctx, s, process.ParentID); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityProcess, processID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("process", "archive")
	return out, nil
}

// UnarchiveProcess clears the process's archive fields only. Tasks stay as
// they are; the project is never auto-unarchived.
func (c *Cascader) UnarchiveProcess(ctx context.Context, processID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		process, err := s.Get(ctx, EntityProcess, processID)
		if err != nil {
			return err
		}
		if !process.Archived() {
			return errors.PreconditionFailed("process is not archived")
		}
		if err := s.ClearArchived(ctx, EntityProcess, processID); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityProcess, processID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("process", "unarchive")
	return out, nil
}

// UnarchiveProcessWithTasks clears the process and every archived task
// under it. Evidence under those tasks stays archived; restoring it takes
// an explicit UnarchiveTaskWithEvidences per task.
func (c *Cascader) UnarchiveProcessWithTasks(ctx context.Context, processID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		process, err := s.Get(ctx, EntityProcess, processID)
		if err != nil {
			return err
		}
		if !process.Archived() {
			return errors.PreconditionFailed("process is not archived")
		}
		if err := s.ClearArchived(ctx, EntityProcess, processID); err != nil {
			return err
		}
		tasks, err := s.ListChildren(ctx, EntityProcess, processID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if !task.Archived() {
				continue
			}
			if err := s.ClearArchived(ctx, EntityTask, task.ID); err != nil {
				return err
			}
		}
		out, err = s.Get(ctx, EntityProcess, processID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("process", "unarchive")
	return out, nil
}

// ArchiveProject archives just the project, assuming its processes are
// already consistent.
func (c *Cascader) ArchiveProject(ctx context.Context, projectID, actorID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		project, err := s.Get(ctx, EntityProject, projectID)
		if err != nil {
			return err
		}
		if project.Archived() {
			return errors.PreconditionFailed("project is already archived")
		}
		if err := s.SetArchived(ctx, EntityProject, projectID, c.now(), idPtr(actorID)); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityProject, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("project", "archive")
	return out, nil
}

// ArchiveProjectWithProcesses archives every active process under the
// project (cascading tasks and evidence with the system marker) and then
// the project itself with the actor recorded.
func (c *Cascader) ArchiveProjectWithProcesses(ctx context.Context, projectID, actorID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		project, err := s.Get(ctx, EntityProject, projectID)
		if err != nil {
			return err
		}
		if project.Archived() {
			return errors.PreconditionFailed("project is already archived")
		}
		if err := s.LockParent(ctx, EntityProject, projectID); err != nil {
			return err
		}
		processes, err := s.ListChildren(ctx, EntityProject, projectID)
		if err != nil {
			return err
		}
		for _, process := range processes {
			if process.Archived() {
				continue
			}
			if err := c.archiveProcessWithTasks(ctx, s, process, nil); err != nil {
				return err
			}
		}
		if err := s.SetArchived(ctx, EntityProject, projectID, c.now(), idPtr(actorID)); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityProject, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("project", "archive")
	return out, nil
}

// UnarchiveProject clears the project's archive fields only.
func (c *Cascader) UnarchiveProject(ctx context.Context, projectID types.ID) (*Entity, error) {
	var out *Entity
	err := c.run.InTx(ctx, func(s EntityStore) error {
		project, err := s.Get(ctx, EntityProject, projectID)
		if err != nil {
			return err
		}
		if !project.Archived() {
			return errors.PreconditionFailed("project is not archived")
		}
		if err := s.ClearArchived(ctx, EntityProject, projectID); err != nil {
			return err
		}
		out, err = s.Get(ctx, EntityProject, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveCascade("project", "unarchive")
	return out, nil
}

// archiveTask applies the downward cascade for one task: evidence rows
// first with the null-actor marker, then the task itself.
func (c *Cascader) archiveTask(ctx context.Context, s EntityStore, task *Entity, actorID types.ID) error {
	now := c.now()
	evidences, err := s.ListChildren(ctx, EntityTask, task.ID)
	if err != nil {
		return err
	}
	for _, ev := range evidences {
		if ev.Archived() {
			continue
		}
		if err := s.SetArchived(ctx, EntityEvidence, ev.ID, now, nil); err != nil {
			return err
		}
	}
	return s.SetArchived(ctx, EntityTask, task.ID, now, idPtr(actorID))
}

// archiveProcessWithTasks archives all active tasks (with their evidence)
// and the process itself. Tasks archived here carry the cascade marker.
// The process-level recheck is deliberately not run: the process is being
// archived unconditionally by the caller.
func (c *Cascader) archiveProcessWithTasks(ctx context.Context, s EntityStore, process *Entity, actor *types.ID) error {
	tasks, err := s.ListChildren(ctx, EntityProcess, process.ID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Archived() {
			continue
		}
		if err := c.archiveTask(ctx, s, task, types.ID("")); err != nil {
			return err
		}
	}
	return s.SetArchived(ctx, EntityProcess, process.ID, c.now(), actor)
}

// checkAndArchiveProcess auto-archives the process when all of its tasks
// are archived. An empty process is never auto-archived, and an archived
// one is never archived twice. The auto-archive carries the null-actor
// cascade marker and triggers the project-level check.
func (c *Cascader) checkAndArchiveProcess(ctx context.Context, s EntityStore, processID types.ID) error {
	total, archived, err := s.CountChildren(ctx, EntityProcess, processID)
	if err != nil {
		return err
	}
	if total == 0 || total != archived {
		return nil
	}

	process, err := s.Get(ctx, EntityProcess, processID)
	if err != nil {
		return err
	}
	if process.Archived() {
		return nil
	}
	if process.ParentID.IsZero() {
		return errors.InconsistentState("process " + processID.String() + " has no owning project")
	}

	if err := s.SetArchived(ctx, EntityProcess, processID, c.now(), nil); err != nil {
		return err
	}
	metrics.RecordArchiveCascade("process", "auto_archive")

	return c.checkAndArchiveProject(ctx, s, process.ParentID)
}

// checkAndArchiveProject is the project-level counterpart, operating over
// processes. There is no further level above it.
func (c *Cascader) checkAndArchiveProject(ctx context.Context, s EntityStore, projectID types.ID) error {
	if err := s.LockParent(ctx, EntityProject, projectID); err != nil {
		return err
	}

	total, archived, err := s.CountChildren(ctx, EntityProject, projectID)
	if err != nil {
		return err
	}
	if total == 0 || total != archived {
		return nil
	}

	project, err := s.Get(ctx, EntityProject, projectID)
	if err != nil {
		return err
	}
	if project.Archived() {
		return nil
	}

	if err := s.SetArchived(ctx, EntityProject, projectID, c.now(), nil); err != nil {
		return err
	}
	metrics.RecordArchiveCascade("project", "auto_archive")
	return nil
}

func idPtr(id types.ID) *types.ID {
	if id.IsZero() {
		return nil
	}
	return &id
}
