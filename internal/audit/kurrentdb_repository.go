package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/trackline/platform/internal/shared/errors"
	"github.com/trackline/platform/internal/shared/types"
)

const (
	// StreamName is the stream where all audit entries are stored
	StreamName = "$audit"
	// EventType is the event type for audit entries
	EventType = "AuditEntry"
)

// KurrentDBRepository provides append-only audit log operations on KurrentDB.
// Events in the stream cannot be modified or deleted once written.
type KurrentDBRepository struct {
	client   *esdb.Client
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewKurrentDBRepository creates a new KurrentDB-based audit repository
func NewKurrentDBRepository(client *esdb.Client) *KurrentDBRepository {
	return &KurrentDBRepository{client: client}
}

// Initialize loads the last hash and sequence from the audit stream
func (r *KurrentDBRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	stream, err := r.client.ReadStream(ctx, StreamName, opts, 1)
	if err != nil {
		// Stream doesn't exist yet
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				r.lastHash = ""
				r.sequence = 0
				return nil
			}
		}
		return errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		r.lastHash = ""
		r.sequence = 0
		return nil
	}

	if event.Event != nil && event.Event.EventType == EventType {
		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			r.lastHash = entry.Hash
			r.sequence = entry.Sequence
		}
	}

	return nil
}

// Append appends a new audit entry (thread-safe)
func (r *KurrentDBRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	entry.Sequence = r.sequence
	entry.PrevHash = r.lastHash
	entry.Hash = entry.ComputeHash()

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	eventData := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   EventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata: []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`,
			entry.Sequence, entry.Hash)),
	}

	_, err = r.client.AppendToStream(ctx, StreamName, esdb.AppendToStreamOptions{}, eventData)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	return nil
}

// FindByID finds an audit entry by ID. Linear scan; the audit API is an
// operator surface, not a hot path.
func (r *KurrentDBRepository) FindByID(ctx context.Context, id types.ID) (*Entry, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Forwards,
		From:      esdb.Start{},
	}

	stream, err := r.client.ReadStream(ctx, StreamName, opts, 10000)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}

		if event.Event != nil && event.Event.EventType == EventType {
			var entry Entry
			if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
				if entry.ID == id {
					return &entry, nil
				}
			}
		}
	}

	return nil, errors.NotFound("audit entry", id.String())
}

// List lists audit entries with filters, newest first
func (r *KurrentDBRepository) List(ctx context.Context, filter ListEntriesFilter) ([]*Entry, int, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	maxEvents := uint64(1000)
	if filter.Limit > 0 {
		// Read extra to account for filtering
		maxEvents = uint64(filter.Limit + filter.Offset + 100)
	}

	stream, err := r.client.ReadStream(ctx, StreamName, opts, maxEvents)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return []*Entry{}, 0, nil
			}
		}
		return nil, 0, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var entries []*Entry
	total := 0

	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}

		if event.Event == nil || event.Event.EventType != EventType {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			continue
		}
		if !matchesFilter(&entry, filter) {
			continue
		}

		total++

		if filter.Offset > 0 && total <= filter.Offset {
			continue
		}
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			continue
		}

		entries = append(entries, &entry)
	}

	return entries, total, nil
}

// GetByResource gets audit entries for a specific resource
func (r *KurrentDBRepository) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*Entry, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		Limit:        limit,
	})
	return entries, err
}

// VerifyChain verifies the integrity of the audit chain
func (r *KurrentDBRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	stream, err := r.client.ReadStream(ctx, StreamName, opts, uint64(limit))
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return &VerifyResult{Valid: true, Checked: 0}, nil
			}
		}
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var entries []*Entry
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}

		if event.Event != nil && event.Event.EventType == EventType {
			var entry Entry
			if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
				entries = append(entries, &entry)
			}
		}
	}

	return verifyEntries(entries, includeDetails), nil
}

// GetLastHash returns the last hash in the chain
func (r *KurrentDBRepository) GetLastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// GetSequence returns the current sequence number
func (r *KurrentDBRepository) GetSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// Count returns the total number of audit entries
func (r *KurrentDBRepository) Count(ctx context.Context) (int, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Forwards,
		From:      esdb.Start{},
	}

	stream, err := r.client.ReadStream(ctx, StreamName, opts, 100000)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return 0, nil
			}
		}
		return 0, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	count := 0
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Event != nil && event.Event.EventType == EventType {
			count++
		}
	}

	return count, nil
}

// verifyEntries checks content hashes and chain linkage over entries ordered
// newest first.
func verifyEntries(entries []*Entry, includeDetails bool) *VerifyResult {
	result := &VerifyResult{Valid: true, Checked: len(entries)}

	for i, entry := range entries {
		computedHash := entry.ComputeHash()
		contentValid := computedHash == entry.Hash

		if contentValid {
			result.ContentValid++
		} else {
			result.Valid = false
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("CONTENT TAMPERED: entry %d hash mismatch (stored: %.16s, computed: %.16s)",
					entry.Sequence, entry.Hash, computedHash))
		}

		linkageValid := true
		if i < len(entries)-1 {
			prevEntry := entries[i+1]
			if entry.PrevHash != prevEntry.Hash {
				linkageValid = false
				result.Valid = false
				result.LinkageInvalid++
				result.Violations = append(result.Violations,
					fmt.Sprintf("CHAIN BROKEN: entry %d prev_hash doesn't match entry %d hash",
						entry.Sequence, prevEntry.Sequence))
			} else {
				result.LinkageValid++
			}
		} else {
			// First entry has no predecessor to check
			result.LinkageValid++
		}

		if includeDetails {
			result.Entries = append(result.Entries, VerifyEntryResult{
				ID:           entry.ID,
				Sequence:     entry.Sequence,
				Hash:         entry.Hash,
				ComputedHash: computedHash,
				PrevHash:     entry.PrevHash,
				Valid:        contentValid && linkageValid,
				ContentValid: contentValid,
				LinkageValid: linkageValid,
				Action:       entry.Action,
			})
		}
	}

	return result
}
