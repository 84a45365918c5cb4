package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// MemoryProvider stores delivered notifications in memory. Used in tests
// and as the default provider when no external channel is configured.
type MemoryProvider struct {
	mu         sync.RWMutex
	sent       []*Notification
	failOnSend bool
}

// NewMemoryProvider creates a new in-memory provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// Send records the notification as delivered.
func (p *MemoryProvider) Send(ctx context.Context, notification *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend {
		return fmt.Errorf("send failure")
	}

	p.sent = append(p.sent, notification)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MemoryProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// Sent returns all delivered notifications.
func (p *MemoryProvider) Sent() []*Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Notification, len(p.sent))
	copy(result, p.sent)
	return result
}

// LogProvider writes notifications to the process log (for development).
type LogProvider struct {
	prefix string
}

// NewLogProvider creates a log provider
func NewLogProvider(prefix string) *LogProvider {
	return &LogProvider{prefix: prefix}
}

// Send logs the notification.
func (p *LogProvider) Send(ctx context.Context, notification *Notification) error {
	recipient := "all"
	if !notification.RecipientID.IsZero() {
		recipient = notification.RecipientID.String()
	}
	log.Printf("[%s] %s to=%s %s/%s: %s",
		p.prefix, notification.Kind, recipient,
		notification.ResourceType, notification.ResourceID, notification.Subject)
	return nil
}
