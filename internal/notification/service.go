package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Provider delivers notifications to their recipients.
type Provider interface {
	Send(ctx context.Context, notification *Notification) error
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       4,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
	}
}

// Service fans notifications out to a provider through a bounded queue.
// Enqueue never blocks the caller and never returns an error.
type Service struct {
	provider Provider
	config   ServiceConfig

	mu      sync.RWMutex
	history map[string]*Notification
	stats   Stats
	seq     int64

	notifCh chan *Notification
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewService creates a new notification service
func NewService(provider Provider, config ServiceConfig) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	return &Service{
		provider: provider,
		config:   config,
		history:  make(map[string]*Notification),
		stats:    Stats{ByKind: make(map[Kind]int64)},
		notifCh:  make(chan *Notification, config.BufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("notification service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	return nil
}

// Stop stops the worker pool. Queued notifications are discarded.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("notification service not started")
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return nil
}

// Enqueue submits a notification for delivery. It is fire and forget:
// a nil service, a nil notification, or a full queue drops silently
// apart from a log line. Safe to call from request handlers.
func (s *Service) Enqueue(n *Notification) {
	if s == nil || n == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	if n.ID == "" {
		n.ID = fmt.Sprintf("ntf-%d", s.seq)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Status = StatusPending
	s.history[n.ID] = n
	s.stats.TotalEnqueued++
	s.stats.ByKind[n.Kind]++
	s.mu.Unlock()

	select {
	case s.notifCh <- n:
	default:
		s.mu.Lock()
		n.Status = StatusFailed
		n.ErrorMessage = "queue full"
		s.stats.TotalDropped++
		s.mu.Unlock()
		log.Printf("WARNING: dropping notification %s (%s): queue full", n.ID, n.Kind)
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case n := <-s.notifCh:
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n *Notification) {
	err := s.provider.Send(ctx, n)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		n.ErrorMessage = err.Error()
		n.RetryCount++

		if n.RetryCount >= s.config.RetryAttempts {
			n.Status = StatusFailed
			s.stats.TotalFailed++
			log.Printf("WARNING: notification %s failed after %d attempts: %v", n.ID, n.RetryCount, err)
			return
		}

		// Re-queue after a delay. The queue may have filled in the
		// meantime, in which case the notification is dropped.
		go func() {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-s.stopCh:
				return
			}
			select {
			case s.notifCh <- n:
			default:
				s.mu.Lock()
				n.Status = StatusFailed
				s.stats.TotalDropped++
				s.mu.Unlock()
			}
		}()
		return
	}

	now := time.Now().UTC()
	n.SentAt = &now
	n.Status = StatusSent
	n.ErrorMessage = ""
	s.stats.TotalSent++
}

// Get returns a notification by ID.
func (s *Service) Get(id string) (*Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.history[id]
	return n, ok
}

// GetStats returns a snapshot of delivery counters.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.stats
	snapshot.ByKind = make(map[Kind]int64, len(s.stats.ByKind))
	for k, v := range s.stats.ByKind {
		snapshot.ByKind[k] = v
	}
	return snapshot
}
