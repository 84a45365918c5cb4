package notification

import (
	"fmt"
	"time"

	"github.com/trackline/platform/internal/shared/types"
)

// Kind classifies what a notification is about.
type Kind string

const (
	KindArchived          Kind = "archived"
	KindUnarchived        Kind = "unarchived"
	KindMembershipGranted Kind = "membership_granted"
	KindMembershipRevoked Kind = "membership_revoked"
)

// Status tracks delivery progress of a notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is an in-process message about something that happened
// to a resource a user cares about.
type Notification struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	RecipientID  types.ID       `json:"recipient_id,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   types.ID       `json:"resource_id"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	Data         map[string]any `json:"data,omitempty"`
	Status       Status         `json:"status"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
}

// Stats aggregates delivery counters for the service.
type Stats struct {
	TotalEnqueued int64          `json:"total_enqueued"`
	TotalSent     int64          `json:"total_sent"`
	TotalFailed   int64          `json:"total_failed"`
	TotalDropped  int64          `json:"total_dropped"`
	ByKind        map[Kind]int64 `json:"by_kind"`
}

// NewArchiveNotification builds a notification for an archive or
// unarchive of a resource. actorID may be zero for cascade archives.
func NewArchiveNotification(resourceType string, resourceID types.ID, actorID types.ID, archived bool) *Notification {
	kind := KindArchived
	verb := "archived"
	if !archived {
		kind = KindUnarchived
		verb = "unarchived"
	}
	n := &Notification{
		Kind:         kind,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Subject:      fmt.Sprintf("%s %s", resourceType, verb),
		Body:         fmt.Sprintf("%s %s was %s", resourceType, resourceID, verb),
		Data:         map[string]any{},
	}
	if !actorID.IsZero() {
		n.Data["actor_id"] = actorID.String()
	}
	return n
}

// NewMembershipNotification builds a notification addressed to the user
// whose membership was granted or revoked.
func NewMembershipNotification(userID types.ID, membershipKind string, targetID types.ID, granted bool) *Notification {
	kind := KindMembershipGranted
	verb := "granted"
	if !granted {
		kind = KindMembershipRevoked
		verb = "revoked"
	}
	return &Notification{
		Kind:         kind,
		RecipientID:  userID,
		ResourceType: "membership",
		ResourceID:   targetID,
		Subject:      fmt.Sprintf("membership %s", verb),
		Body:         fmt.Sprintf("%s membership on %s was %s", membershipKind, targetID, verb),
		Data: map[string]any{
			"membership_kind": membershipKind,
		},
	}
}
