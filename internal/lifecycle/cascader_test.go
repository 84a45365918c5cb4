package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// memStore is an in-memory EntityStore and Runner for tests
type memStore struct {
	mu       sync.Mutex
	entities map[string]*Entity
	children map[string][]types.ID
	locks    []string
}

func newMemStore() *memStore {
	return &memStore{
		entities: make(map[string]*Entity),
		children: make(map[string][]types.ID),
	}
}

func entityKey(kind EntityKind, id types.ID) string {
	return string(kind) + "|" + id.String()
}

func (m *memStore) add(kind EntityKind, parentID types.ID) types.ID {
	id := types.NewID()
	m.entities[entityKey(kind, id)] = &Entity{Kind: kind, ID: id, ParentID: parentID}
	if !parentID.IsZero() {
		var parentKind EntityKind
		switch kind {
		case EntityProcess:
			parentKind = EntityProject
		case EntityTask:
			parentKind = EntityProcess
		case EntityEvidence:
			parentKind = EntityTask
		}
		key := entityKey(parentKind, parentID)
		m.children[key] = append(m.children[key], id)
	}
	return id
}

func (m *memStore) get(t *testing.T, kind EntityKind, id types.ID) *Entity {
	t.Helper()
	e, ok := m.entities[entityKey(kind, id)]
	if !ok {
		t.Fatalf("entity %s/%s not found", kind, id)
	}
	return e
}

func (m *memStore) InTx(ctx context.Context, fn func(EntityStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memStore) Get(ctx context.Context, kind EntityKind, id types.ID) (*Entity, error) {
	e, ok := m.entities[entityKey(kind, id)]
	if !ok {
		return nil, errors.NotFound(string(kind), id.String())
	}
	copied := *e
	return &copied, nil
}

func (m *memStore) ListChildren(ctx context.Context, parentKind EntityKind, parentID types.ID) ([]*Entity, error) {
	var childKind EntityKind
	switch parentKind {
	case EntityProject:
		childKind = EntityProcess
	case EntityProcess:
		childKind = EntityTask
	case EntityTask:
		childKind = EntityEvidence
	}

	var out []*Entity
	for _, id := range m.children[entityKey(parentKind, parentID)] {
		copied := *m.entities[entityKey(childKind, id)]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) CountChildren(ctx context.Context, parentKind EntityKind, parentID types.ID) (int, int, error) {
	children, _ := m.ListChildren(ctx, parentKind, parentID)
	archived := 0
	for _, child := range children {
		if child.Archived() {
			archived++
		}
	}
	return len(children), archived, nil
}

func (m *memStore) SetArchived(ctx context.Context, kind EntityKind, id types.ID, archivedAt time.Time, archivedBy *types.ID) error {
	e, ok := m.entities[entityKey(kind, id)]
	if !ok {
		return errors.NotFound(string(kind), id.String())
	}
	e.ArchivedAt = &archivedAt
	e.ArchivedBy = archivedBy
	return nil
}

func (m *memStore) ClearArchived(ctx context.Context, kind EntityKind, id types.ID) error {
	e, ok := m.entities[entityKey(kind, id)]
	if !ok {
		return errors.NotFound(string(kind), id.String())
	}
	e.ArchivedAt = nil
	e.ArchivedBy = nil
	return nil
}

func (m *memStore) LockParent(ctx context.Context, kind EntityKind, id types.ID) error {
	m.locks = append(m.locks, entityKey(kind, id))
	return nil
}

// tree builds project -> process -> tasks with evidence counts per task
func buildTree(store *memStore, taskEvidences ...int) (project, process types.ID, tasks []types.ID) {
	project = store.add(EntityProject, types.ID(""))
	process = store.add(EntityProcess, project)
	for _, n := range taskEvidences {
		task := store.add(EntityTask, process)
		for i := 0; i < n; i++ {
			store.add(EntityEvidence, task)
		}
		tasks = append(tasks, task)
	}
	return project, process, tasks
}

func TestArchiveTaskCascadesToEvidence(t *testing.T) {
	store := newMemStore()
	_, process, tasks := buildTree(store, 3, 0)
	actor := types.NewID()
	cascader := NewCascader(store)

	out, err := cascader.ArchiveTask(context.Background(), tasks[0], actor)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !out.Archived() {
		t.Error("Expected task to be archived")
	}
	if out.ArchivedBy == nil || *out.ArchivedBy != actor {
		t.Error("Expected task archivedBy to record the actor")
	}

	evidences, _ := store.ListChildren(context.Background(), EntityTask, tasks[0])
	if len(evidences) != 3 {
		t.Fatalf("Expected 3 evidences, got %d", len(evidences))
	}
	for _, ev := range evidences {
		if !ev.Archived() {
			t.Error("Expected evidence to be archived by the cascade")
		}
		if ev.ArchivedBy != nil {
			t.Error("Expected cascaded evidence archivedBy to be null")
		}
	}

	// The sibling is still active, so the process must not auto-archive.
	if store.get(t, EntityProcess, process).Archived() {
		t.Error("Expected process to stay active while a sibling task is active")
	}
}

func TestArchiveTaskAlreadyArchived(t *testing.T) {
	store := newMemStore()
	_, _, tasks := buildTree(store, 0)
	cascader := NewCascader(store)

	if _, err := cascader.ArchiveTask(context.Background(), tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err := cascader.ArchiveTask(context.Background(), tasks[0], types.NewID())
	if !errors.Is(err, errors.ErrPrecondition) {
		t.Errorf("Expected precondition failure, got %v", err)
	}
}

func TestArchiveTaskMissing(t *testing.T) {
	store := newMemStore()
	cascader := NewCascader(store)

	_, err := cascader.ArchiveTask(context.Background(), types.NewID(), types.NewID())
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestArchiveLastTaskAutoArchivesProcess(t *testing.T) {
	store := newMemStore()
	project, process, tasks := buildTree(store, 0, 0)
	cascader := NewCascader(store)

	// Second process with an active task keeps the project alive.
	otherProcess := store.add(EntityProcess, project)
	store.add(EntityTask, otherProcess)

	ctx := context.Background()
	if _, err := cascader.ArchiveTask(ctx, tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if store.get(t, EntityProcess, process).Archived() {
		t.Fatal("Expected process to stay active with one task remaining")
	}

	if _, err := cascader.ArchiveTask(ctx, tasks[1], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	proc := store.get(t, EntityProcess, process)
	if !proc.Archived() {
		t.Fatal("Expected process to auto-archive when its last task archived")
	}
	if proc.ArchivedBy != nil {
		t.Error("Expected auto-archived process to carry the cascade marker")
	}
	if store.get(t, EntityProject, project).Archived() {
		t.Error("Expected project to stay active while the other process has active tasks")
	}
}

func TestAutoArchiveReachesProject(t *testing.T) {
	store := newMemStore()
	project, _, tasks := buildTree(store, 0)
	cascader := NewCascader(store)

	if _, err := cascader.ArchiveTask(context.Background(), tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	proj := store.get(t, EntityProject, project)
	if !proj.Archived() {
		t.Fatal("Expected project to auto-archive when its only process archived")
	}
	if proj.ArchivedBy != nil {
		t.Error("Expected auto-archived project to carry the cascade marker")
	}
}

func TestAutoArchiveCountsLiveState(t *testing.T) {
	store := newMemStore()
	_, process, tasks := buildTree(store, 0, 0)
	cascader := NewCascader(store)
	ctx := context.Background()

	if _, err := cascader.ArchiveTask(ctx, tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// T1 unarchived in the interim: the count must reflect live state.
	if _, err := cascader.UnarchiveTask(ctx, tasks[0]); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := cascader.ArchiveTask(ctx, tasks[1], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if store.get(t, EntityProcess, process).Archived() {
		t.Error("Expected process to stay active after T1 was unarchived")
	}
}

func TestUnarchiveTaskIsOneLevel(t *testing.T) {
	store := newMemStore()
	_, process, tasks := buildTree(store, 2)
	cascader := NewCascader(store)
	ctx := context.Background()

	// Archiving the only task auto-archives the process.
	if _, err := cascader.ArchiveTask(ctx, tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !store.get(t, EntityProcess, process).Archived() {
		t.Fatal("Expected process to be auto-archived")
	}

	out, err := cascader.UnarchiveTask(ctx, tasks[0])
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out.Archived() {
		t.Error("Expected task to be active again")
	}

	// The process was auto-archived because of this task, but unarchive
	// never cascades upward.
	if !store.get(t, EntityProcess, process).Archived() {
		t.Error("Expected process to remain archived after task unarchive")
	}

	// Evidence stays archived with the plain variant.
	evidences, _ := store.ListChildren(ctx, EntityTask, tasks[0])
	for _, ev := range evidences {
		if !ev.Archived() {
			t.Error("Expected evidence to remain archived after plain unarchive")
		}
	}
}

func TestUnarchiveTaskWithEvidences(t *testing.T) {
	store := newMemStore()
	_, _, tasks := buildTree(store, 2)
	cascader := NewCascader(store)
	ctx := context.Background()

	if _, err := cascader.ArchiveTask(ctx, tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := cascader.UnarchiveTaskWithEvidences(ctx, tasks[0]); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	evidences, _ := store.ListChildren(ctx, EntityTask, tasks[0])
	for _, ev := range evidences {
		if ev.Archived() {
			t.Error("Expected evidence to be cleared by the WithEvidences variant")
		}
	}
}

func TestUnarchiveNotArchived(t *testing.T) {
	store := newMemStore()
	_, _, tasks := buildTree(store, 0)
	cascader := NewCascader(store)

	_, err := cascader.UnarchiveTask(context.Background(), tasks[0])
	if !errors.Is(err, errors.ErrPrecondition) {
		t.Errorf("Expected precondition failure, got %v", err)
	}
}

func TestArchiveEmptyProcessDoesNotVacuouslyCascade(t *testing.T) {
	store := newMemStore()
	project := store.add(EntityProject, types.ID(""))
	emptyProcess := store.add(EntityProcess, project)
	activeProcess := store.add(EntityProcess, project)
	store.add(EntityTask, activeProcess)
	cascader := NewCascader(store)

	if _, err := cascader.ArchiveProcessOnly(context.Background(), emptyProcess, types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if store.get(t, EntityProject, project).Archived() {
		t.Error("Expected project to stay active while another process is active")
	}
}

func TestEmptyProcessNeverAutoArchived(t *testing.T) {
	store := newMemStore()
	project := store.add(EntityProject, types.ID(""))
	emptyProcess := store.add(EntityProcess, project)
	workProcess := store.add(EntityProcess, project)
	task := store.add(EntityTask, workProcess)
	cascader := NewCascader(store)

	// Completing the sibling process must not sweep up the empty one.
	if _, err := cascader.ArchiveTask(context.Background(), task, types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if store.get(t, EntityProcess, emptyProcess).Archived() {
		t.Error("Expected empty process to stay active")
	}
	if store.get(t, EntityProject, project).Archived() {
		t.Error("Expected project to stay active while the empty process is active")
	}
}

func TestArchiveProcessWithTasks(t *testing.T) {
	store := newMemStore()
	_, process, tasks := buildTree(store, 1, 1)
	actor := types.NewID()
	cascader := NewCascader(store)

	out, err := cascader.ArchiveProcessWithTasks(context.Background(), process, actor)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// The process records the actor; the recheck must not overwrite it
	// with the cascade marker.
	if out.ArchivedBy == nil || *out.ArchivedBy != actor {
		t.Error("Expected process archivedBy to record the actor")
	}

	for _, taskID := range tasks {
		task := store.get(t, EntityTask, taskID)
		if !task.Archived() {
			t.Error("Expected every task to be archived")
		}
		if task.ArchivedBy != nil {
			t.Error("Expected tasks archived by the process cascade to carry the cascade marker")
		}
		evidences, _ := store.ListChildren(context.Background(), EntityTask, taskID)
		for _, ev := range evidences {
			if !ev.Archived() || ev.ArchivedBy != nil {
				t.Error("Expected evidence archived with the cascade marker")
			}
		}
	}
}

func TestArchiveProjectWithProcesses(t *testing.T) {
	store := newMemStore()
	project, process, tasks := buildTree(store, 1)
	actor := types.NewID()
	cascader := NewCascader(store)

	out, err := cascader.ArchiveProjectWithProcesses(context.Background(), project, actor)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if out.ArchivedBy == nil || *out.ArchivedBy != actor {
		t.Error("Expected project archivedBy to record the actor")
	}
	if store.get(t, EntityProcess, process).ArchivedBy != nil {
		t.Error("Expected cascaded process to carry the cascade marker")
	}
	if !store.get(t, EntityTask, tasks[0]).Archived() {
		t.Error("Expected tasks to be archived by the project cascade")
	}
}

func TestUnarchiveProcessWithTasks(t *testing.T) {
	store := newMemStore()
	_, process, tasks := buildTree(store, 2, 0)
	cascader := NewCascader(store)
	ctx := context.Background()

	if _, err := cascader.ArchiveProcessWithTasks(ctx, process, types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := cascader.UnarchiveProcessWithTasks(ctx, process); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if store.get(t, EntityProcess, process).Archived() {
		t.Error("Expected process to be active")
	}
	for _, taskID := range tasks {
		if store.get(t, EntityTask, taskID).Archived() {
			t.Error("Expected tasks to be cleared by the WithTasks variant")
		}
	}

	// Evidence restoration needs an explicit per-task call.
	evidences, _ := store.ListChildren(ctx, EntityTask, tasks[0])
	for _, ev := range evidences {
		if !ev.Archived() {
			t.Error("Expected evidence to remain archived")
		}
	}
}

func TestArchiveSerializesOnParents(t *testing.T) {
	store := newMemStore()
	_, process, tasks := buildTree(store, 0)
	cascader := NewCascader(store)

	if _, err := cascader.ArchiveTask(context.Background(), tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// The chain locks the owning process before writes and the project
	// before its count check.
	if len(store.locks) < 2 {
		t.Fatalf("Expected process and project locks, got %v", store.locks)
	}
	if store.locks[0] != entityKey(EntityProcess, process) {
		t.Errorf("Expected first lock on the owning process, got %s", store.locks[0])
	}
}

func TestUnarchiveProjectExplicitOnly(t *testing.T) {
	store := newMemStore()
	project, _, tasks := buildTree(store, 0)
	cascader := NewCascader(store)
	ctx := context.Background()

	if _, err := cascader.ArchiveTask(ctx, tasks[0], types.NewID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !store.get(t, EntityProject, project).Archived() {
		t.Fatal("Expected project to be auto-archived")
	}

	out, err := cascader.UnarchiveProject(ctx, project)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out.Archived() {
		t.Error("Expected project to be active")
	}

	// One-level only: the process below stays archived.
	if !store.get(t, EntityTask, tasks[0]).Archived() {
		t.Error("Expected task to remain archived")
	}
}
