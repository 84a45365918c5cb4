package notification

import (
	"context"
	"testing"
	"time"

	"github.com/trackline/platform/internal/shared/types"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met within deadline")
}

func TestEnqueueDelivers(t *testing.T) {
	provider := NewMemoryProvider()
	svc := NewService(provider, DefaultServiceConfig())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	defer svc.Stop()

	n := NewArchiveNotification("task", types.NewID(), types.NewID(), true)
	svc.Enqueue(n)

	waitFor(t, func() bool { return len(provider.Sent()) == 1 })

	got, ok := svc.Get(n.ID)
	if !ok {
		t.Fatal("Expected notification to be retrievable by ID")
	}
	if got.Status != StatusSent {
		t.Errorf("Expected status %s, got %s", StatusSent, got.Status)
	}
	if got.SentAt == nil {
		t.Error("Expected SentAt to be set")
	}

	stats := svc.GetStats()
	if stats.TotalSent != 1 {
		t.Errorf("Expected 1 sent, got %d", stats.TotalSent)
	}
	if stats.ByKind[KindArchived] != 1 {
		t.Errorf("Expected 1 archived notification, got %d", stats.ByKind[KindArchived])
	}
}

func TestEnqueueNilService(t *testing.T) {
	var svc *Service
	// Must not panic.
	svc.Enqueue(NewArchiveNotification("task", types.NewID(), types.ID(""), true))
}

func TestEnqueueNilNotification(t *testing.T) {
	svc := NewService(NewMemoryProvider(), DefaultServiceConfig())
	svc.Enqueue(nil)

	if got := svc.GetStats().TotalEnqueued; got != 0 {
		t.Errorf("Expected 0 enqueued, got %d", got)
	}
}

func TestQueueFullDrops(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.BufferSize = 1
	svc := NewService(NewMemoryProvider(), cfg)
	// Service not started, so the queue never drains.

	first := NewArchiveNotification("task", types.NewID(), types.ID(""), true)
	second := NewArchiveNotification("task", types.NewID(), types.ID(""), true)
	svc.Enqueue(first)
	svc.Enqueue(second)

	if second.Status != StatusFailed {
		t.Errorf("Expected overflow notification to fail, got status %s", second.Status)
	}
	stats := svc.GetStats()
	if stats.TotalDropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", stats.TotalDropped)
	}
	if stats.TotalEnqueued != 2 {
		t.Errorf("Expected 2 enqueued, got %d", stats.TotalEnqueued)
	}
}

func TestFailedDeliveryExhaustsRetries(t *testing.T) {
	provider := NewMemoryProvider()
	provider.SetFailOnSend(true)

	cfg := DefaultServiceConfig()
	cfg.RetryAttempts = 1
	svc := NewService(provider, cfg)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	defer svc.Stop()

	n := NewMembershipNotification(types.NewID(), "unit_member", types.NewID(), true)
	svc.Enqueue(n)

	waitFor(t, func() bool { return svc.GetStats().TotalFailed == 1 })

	if n.Status != StatusFailed {
		t.Errorf("Expected status %s, got %s", StatusFailed, n.Status)
	}
	if n.ErrorMessage == "" {
		t.Error("Expected error message to be recorded")
	}
}

func TestStartTwice(t *testing.T) {
	svc := NewService(NewMemoryProvider(), DefaultServiceConfig())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	defer svc.Stop()

	if err := svc.Start(context.Background()); err == nil {
		t.Error("Expected error starting service twice")
	}
}

func TestArchiveNotificationFields(t *testing.T) {
	id := types.NewID()
	actor := types.NewID()

	tests := []struct {
		name     string
		archived bool
		wantKind Kind
	}{
		{"archive", true, KindArchived},
		{"unarchive", false, KindUnarchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewArchiveNotification("process", id, actor, tt.archived)
			if n.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, n.Kind)
			}
			if n.ResourceType != "process" {
				t.Errorf("Expected resource type process, got %s", n.ResourceType)
			}
			if n.ResourceID != id {
				t.Errorf("Expected resource ID %s, got %s", id, n.ResourceID)
			}
			if n.Data["actor_id"] != actor.String() {
				t.Errorf("Expected actor_id %s, got %v", actor, n.Data["actor_id"])
			}
		})
	}
}

func TestArchiveNotificationOmitsZeroActor(t *testing.T) {
	n := NewArchiveNotification("evidence", types.NewID(), types.ID(""), true)
	if _, ok := n.Data["actor_id"]; ok {
		t.Error("Expected no actor_id for cascade archive")
	}
}

func TestMembershipNotificationFields(t *testing.T) {
	userID := types.NewID()
	targetID := types.NewID()

	n := NewMembershipNotification(userID, "area_admin", targetID, false)
	if n.Kind != KindMembershipRevoked {
		t.Errorf("Expected kind %s, got %s", KindMembershipRevoked, n.Kind)
	}
	if n.RecipientID != userID {
		t.Errorf("Expected recipient %s, got %s", userID, n.RecipientID)
	}
	if n.Data["membership_kind"] != "area_admin" {
		t.Errorf("Expected membership_kind area_admin, got %v", n.Data["membership_kind"])
	}
}
