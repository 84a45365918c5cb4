package audit

import (
	"context"
	"testing"

	"github.com/trackline/platform/internal/shared/types"
)

func TestEntryHashDeterministic(t *testing.T) {
	actorID := types.NewID()
	resourceID := types.NewID()

	entry := NewEntry(ActorTypeUser, actorID, ActionTaskArchived, "task", &resourceID, map[string]any{
		"cascaded_evidence": 3,
		"process_id":        types.NewID().String(),
	})

	if !entry.VerifyHash() {
		t.Error("Expected freshly created entry to verify")
	}

	// Same content must hash the same regardless of map iteration order.
	for i := 0; i < 10; i++ {
		if entry.ComputeHash() != entry.Hash {
			t.Fatal("Expected hash to be deterministic")
		}
	}
}

func TestEntryHashDetectsTampering(t *testing.T) {
	actorID := types.NewID()
	entry := NewEntry(ActorTypeUser, actorID, ActionMembershipGranted, "membership", nil, nil)

	entry.Action = ActionMembershipRevoked

	if entry.VerifyHash() {
		t.Error("Expected modified entry to fail verification")
	}
}

func TestMemoryRepositoryChaining(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var hashes []string
	for i := 0; i < 5; i++ {
		entry := NewEntry(ActorTypeSystem, types.NewID(), ActionProcessArchived, "process", nil, nil)
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		hashes = append(hashes, entry.Hash)
	}

	if repo.GetSequence() != 5 {
		t.Errorf("Expected sequence 5, got %d", repo.GetSequence())
	}
	if repo.GetLastHash() != hashes[4] {
		t.Error("Expected last hash to match the final entry")
	}

	result, err := repo.VerifyChain(ctx, 100, false)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.Valid {
		t.Errorf("Expected valid chain, got violations %v", result.Violations)
	}
	if result.Checked != 5 {
		t.Errorf("Expected 5 entries checked, got %d", result.Checked)
	}
}

func TestVerifyChainDetectsBrokenLinkage(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := NewEntry(ActorTypeUser, types.NewID(), ActionAreaCreated, "area", nil, nil)
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	// Tamper with the middle entry after the fact.
	repo.entries[1].Action = ActionAreaDeleted
	repo.entries[1].Hash = repo.entries[1].ComputeHash()

	result, err := repo.VerifyChain(ctx, 100, true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Valid {
		t.Fatal("Expected chain verification to fail")
	}
	if result.LinkageInvalid == 0 {
		t.Error("Expected a linkage violation")
	}
}

func TestMemoryRepositoryListFilters(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	actor := types.NewID()
	taskID := types.NewID()

	entries := []*Entry{
		NewEntry(ActorTypeUser, actor, ActionTaskArchived, "task", &taskID, nil),
		NewEntry(ActorTypeUser, types.NewID(), ActionTaskArchived, "task", nil, nil),
		NewEntry(ActorTypeUser, actor, ActionMembershipGranted, "membership", nil, nil),
	}
	for _, entry := range entries {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	byActor, total, err := repo.List(ctx, ListEntriesFilter{ActorID: &actor})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if total != 2 || len(byActor) != 2 {
		t.Errorf("Expected 2 entries for actor, got %d (total %d)", len(byActor), total)
	}

	byResource, err := repo.GetByResource(ctx, "task", taskID, 10)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(byResource) != 1 {
		t.Errorf("Expected 1 entry for task, got %d", len(byResource))
	}
}

func TestSinkSwallowsFailures(t *testing.T) {
	// A nil repository means every append fails internally; Record must not
	// panic or surface anything.
	sink := NewSink(nil)
	sink.Record(context.Background(), NewEntry(ActorTypeUser, types.NewID(), ActionUserCreated, "user", nil, nil))

	var nilSink *Sink
	nilSink.Record(context.Background(), NewEntry(ActorTypeUser, types.NewID(), ActionUserCreated, "user", nil, nil))
}

func TestSinkRecords(t *testing.T) {
	repo := NewMemoryRepository()
	sink := NewSink(repo)

	sink.Record(context.Background(), NewEntry(ActorTypeUser, types.NewID(), ActionProjectArchived, "project", nil, nil))

	count, _ := repo.Count(context.Background())
	if count != 1 {
		t.Errorf("Expected 1 recorded entry, got %d", count)
	}
}
