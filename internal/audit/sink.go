package audit

import (
	"context"
	"log"

	"github.com/trackline/platform/internal/shared/metrics"
)

// Sink records audit entries best-effort. A failed append must never fail
// the business operation that produced it: failures are logged and counted,
// the caller is not told.
type Sink struct {
	repo Repository
}

// NewSink creates a sink over the given repository
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// Record appends the entry. Errors are swallowed after logging.
func (s *Sink) Record(ctx context.Context, entry *Entry) {
	if s == nil || s.repo == nil {
		return
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		log.Printf("WARNING: dropping audit entry %s (%s): %v", entry.ID, entry.Action, err)
		metrics.RecordAuditEntryDropped()
		return
	}
	metrics.RecordAuditEntry()
}
