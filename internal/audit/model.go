package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/trackline/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order, so hashing requires a canonical form.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType defines the type of actor
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Entry represents an immutable audit log entry. Entries are hash-chained:
// each entry's hash covers its content and the previous entry's hash.
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	ActorType ActorType `json:"actor_type"`
	ActorID   types.ID  `json:"actor_id"`
	ActorIP   string    `json:"actor_ip,omitempty"`

	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *types.ID `json:"resource_id,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

// NewEntry creates a new audit entry. The repository assigns sequence and
// prev_hash on append; the hash is recomputed at that point.
func NewEntry(actorType ActorType, actorID types.ID, action, resourceType string, resourceID *types.ID, details map[string]any) *Entry {
	entry := &Entry{
		ID:           types.NewID(),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	entry.Hash = entry.computeHash()
	return entry
}

// WithRequest adds request information to the entry
func (e *Entry) WithRequest(ip string) *Entry {
	e.ActorIP = ip
	return e
}

// computeHash calculates the SHA-256 hash of the entry using canonical JSON.
// The timestamp is always hashed in UTC so verification is timezone-stable.
func (e *Entry) computeHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}

	if e.ResourceID != nil {
		data["resource_id"] = e.ResourceID
	}
	if len(e.Details) > 0 {
		data["details"] = e.Details
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's stored hash against its content
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.computeHash()
}

// ComputeHash computes and returns the correct hash for this entry
func (e *Entry) ComputeHash() string {
	return e.computeHash()
}

// ListEntriesFilter defines filters for listing audit entries
type ListEntriesFilter struct {
	ActorID      *types.ID  `json:"actor_id,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   *types.ID  `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// VerifyResult is the outcome of an audit chain verification
type VerifyResult struct {
	Valid          bool                `json:"valid"`
	Checked        int                 `json:"checked"`
	ContentValid   int                 `json:"content_valid"`
	ContentInvalid int                 `json:"content_invalid"`
	LinkageValid   int                 `json:"linkage_valid"`
	LinkageInvalid int                 `json:"linkage_invalid"`
	Violations     []string            `json:"violations,omitempty"`
	Entries        []VerifyEntryResult `json:"entries,omitempty"`
}

// VerifyEntryResult holds per-entry verification detail
type VerifyEntryResult struct {
	ID           types.ID `json:"id"`
	Sequence     int64    `json:"sequence"`
	Hash         string   `json:"hash"`
	ComputedHash string   `json:"computed_hash"`
	PrevHash     string   `json:"prev_hash"`
	Valid        bool     `json:"valid"`
	ContentValid bool     `json:"content_valid"`
	LinkageValid bool     `json:"linkage_valid"`
	Action       string   `json:"action"`
}

// Common audit actions
const (
	// Memberships
	ActionMembershipGranted = "membership.granted"
	ActionMembershipRevoked = "membership.revoked"
	ActionRolePromoted      = "membership.role_promoted"

	// Lifecycle
	ActionTaskArchived       = "task.archived"
	ActionTaskUnarchived     = "task.unarchived"
	ActionProcessArchived    = "process.archived"
	ActionProcessUnarchived  = "process.unarchived"
	ActionProjectArchived    = "project.archived"
	ActionProjectUnarchived  = "project.unarchived"
	ActionEvidenceArchived   = "evidence.archived"
	ActionEvidenceUnarchived = "evidence.unarchived"

	// Org structure
	ActionAreaCreated = "area.created"
	ActionAreaDeleted = "area.deleted"
	ActionUnitCreated = "unit.created"
	ActionUnitDeleted = "unit.deleted"
	ActionUserCreated = "user.created"
)
