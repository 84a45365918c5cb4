package audit

import (
	"context"
	"sync"

	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

// Repository defines audit storage operations. The KurrentDB implementation
// is the production one; the memory implementation backs tests and degraded
// startup when the event store is unreachable.
type Repository interface {
	// Initialize loads initial state (last hash, sequence)
	Initialize(ctx context.Context) error

	// Append appends a new audit entry, assigning sequence and prev_hash
	Append(ctx context.Context, entry *Entry) error

	// FindByID finds an audit entry by ID
	FindByID(ctx context.Context, id types.ID) (*Entry, error)

	// List lists audit entries with filters, newest first
	List(ctx context.Context, filter ListEntriesFilter) ([]*Entry, int, error)

	// GetByResource gets audit entries for a specific resource
	GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*Entry, error)

	// VerifyChain verifies the integrity of the audit chain
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)

	// GetLastHash returns the last hash in the chain
	GetLastHash() string

	// GetSequence returns the current sequence number
	GetSequence() int64

	// Count returns the total number of audit entries
	Count(ctx context.Context) (int, error)
}

var _ Repository = (*KurrentDBRepository)(nil)
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory audit repository
type MemoryRepository struct {
	mu       sync.Mutex
	entries  []*Entry
	lastHash string
	sequence int64
}

// NewMemoryRepository creates an empty in-memory audit repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Initialize is a no-op for the memory repository
func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return nil
}

// Append appends a new audit entry
func (r *MemoryRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	entry.Sequence = r.sequence
	entry.PrevHash = r.lastHash
	entry.Hash = entry.ComputeHash()

	r.entries = append(r.entries, entry)
	r.lastHash = entry.Hash
	return nil
}

// FindByID finds an audit entry by ID
func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.ID == id {
			copied := *entry
			return &copied, nil
		}
	}
	return nil, errors.NotFound("audit entry", id.String())
}

// List lists audit entries with filters, newest first
func (r *MemoryRepository) List(ctx context.Context, filter ListEntriesFilter) ([]*Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if !matchesFilter(entry, filter) {
			continue
		}
		matched = append(matched, entry)
	}

	total := len(matched)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*Entry, 0, len(matched))
	for _, entry := range matched {
		copied := *entry
		out = append(out, &copied)
	}
	return out, total, nil
}

// GetByResource gets audit entries for a specific resource
func (r *MemoryRepository) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*Entry, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		Limit:        limit,
	})
	return entries, err
}

// VerifyChain verifies the integrity of the audit chain
func (r *MemoryRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	// verifyEntries expects newest first
	reversed := make([]*Entry, len(entries))
	for i, entry := range entries {
		reversed[len(entries)-1-i] = entry
	}
	return verifyEntries(reversed, includeDetails), nil
}

// GetLastHash returns the last hash in the chain
func (r *MemoryRepository) GetLastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// GetSequence returns the current sequence number
func (r *MemoryRepository) GetSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// Count returns the total number of audit entries
func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}

func matchesFilter(entry *Entry, filter ListEntriesFilter) bool {
	if filter.ActorID != nil && entry.ActorID != *filter.ActorID {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.ResourceType != "" && entry.ResourceType != filter.ResourceType {
		return false
	}
	if filter.ResourceID != nil && (entry.ResourceID == nil || *entry.ResourceID != *filter.ResourceID) {
		return false
	}
	if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}
