package org

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackline/platform/internal/authz"
	"github.com/trackline/platform/internal/shared/types"
)

func TestMembershipKinds(t *testing.T) {
	tests := []struct {
		kind     MembershipKind
		expected string
	}{
		{MembershipAreaAdmin, "area_admin"},
		{MembershipAreaMember, "area_member"},
		{MembershipUnitMember, "unit_member"},
		{MembershipProjectMember, "project_member"},
		{MembershipTaskMember, "task_member"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if string(tt.kind) != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, tt.kind)
			}
			if !tt.kind.Valid() {
				t.Errorf("Expected kind '%s' to be valid", tt.kind)
			}
		})
	}

	if MembershipKind("owner").Valid() {
		t.Error("Expected unknown kind to be invalid")
	}
}

func TestNewUserStartsAtBaseRole(t *testing.T) {
	user := User{
		ID:          types.NewID(),
		Email:       "ana@trackline.io",
		DisplayName: "Ana",
		SystemRole:  authz.RoleUser,
	}

	if user.SystemRole != authz.RoleUser {
		t.Errorf("Expected system role 'user', got '%s'", user.SystemRole)
	}
	if user.ID.IsZero() {
		t.Error("User ID should not be zero")
	}
}

func TestCreateMembershipRejectsUnknownKind(t *testing.T) {
	handler := NewHandler(nil, nil, nil, nil)

	body, _ := json.Marshal(CreateMembershipRequest{
		Kind:     MembershipKind("owner"),
		UserID:   types.NewID(),
		TargetID: types.NewID(),
	})

	req := httptest.NewRequest(http.MethodPost, "/memberships", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.CreateMembership(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestCreateMembershipRequiresIDs(t *testing.T) {
	handler := NewHandler(nil, nil, nil, nil)

	body, _ := json.Marshal(CreateMembershipRequest{Kind: MembershipAreaAdmin})

	req := httptest.NewRequest(http.MethodPost, "/memberships", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.CreateMembership(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}
