package project

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trackline/platform/internal/shared/types"
)

func TestTaskStatuses(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected string
	}{
		{TaskStatusPending, "pending"},
		{TaskStatusInProgress, "in_progress"},
		{TaskStatusReview, "review"},
		{TaskStatusCompleted, "completed"},
		{TaskStatusCancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if string(tt.status) != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, tt.status)
			}
			if !tt.status.Valid() {
				t.Errorf("Expected status '%s' to be valid", tt.status)
			}
		})
	}

	if TaskStatus("done").Valid() {
		t.Error("Expected unknown status to be invalid")
	}
}

func TestArchivedPair(t *testing.T) {
	task := Task{
		ID:        types.NewID(),
		ProcessID: types.NewID(),
		Title:     "collect shipment receipts",
		Status:    TaskStatusInProgress,
	}

	if task.Archived() {
		t.Error("Expected fresh task to be active")
	}

	now := time.Now()
	actor := types.NewID()
	task.ArchivedAt = &now
	task.ArchivedBy = &actor

	if !task.Archived() {
		t.Error("Expected task with archived_at to be archived")
	}

	// A cascade-originated archive carries archived_at with a nil archived_by.
	evidence := Evidence{
		ID:         types.NewID(),
		TaskID:     task.ID,
		Name:       "receipt.pdf",
		ArchivedAt: &now,
	}

	if !evidence.Archived() {
		t.Error("Expected cascaded evidence to be archived")
	}
	if evidence.ArchivedBy != nil {
		t.Error("Expected cascaded evidence to carry no actor")
	}
}

func TestProjectWithoutCategory(t *testing.T) {
	project := Project{
		ID:     types.NewID(),
		Name:   "Internal tooling",
		Status: ProjectStatusActive,
	}

	if project.CategoryID != nil {
		t.Error("Expected project without category to have nil CategoryID")
	}
	if project.UnitID != nil {
		t.Error("Expected project without unit to have nil UnitID")
	}
}

func TestDecodeArchiveRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		cascade bool
	}{
		{"empty body", "", false},
		{"explicit cascade", `{"cascade": true}`, true},
		{"explicit no cascade", `{"cascade": false}`, false},
		{"garbage body", "{not json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/tasks/x/archive", strings.NewReader(tt.body))
			req := decodeArchiveRequest(r)
			if req.Cascade != tt.cascade {
				t.Errorf("Expected cascade %v, got %v", tt.cascade, req.Cascade)
			}
		})
	}
}
