// Package notify delivers sync failure notifications to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cfgkeeper/internal/config"
	"cfgkeeper/internal/types"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when a notification cannot be queued
var ErrQueueFull = errors.New("notification queue is full")

// notification represents a notification to be sent
type notification struct {
	notifierType NotifierType
	notifyFunc   func(Notifier) error
}

// Manager represents notifier manager
type Manager struct {
	config      *config.NotifyConfig
	logger      *zap.Logger
	notifiers   map[NotifierType]Notifier
	mu          sync.RWMutex
	rateLimiter *RateLimiter
	notifyChan  chan notification
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewManager creates new notifier manager
func NewManager(cfg *config.NotifyConfig, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notify config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:     cfg,
		logger:     logger,
		notifiers:  make(map[NotifierType]Notifier),
		notifyChan: make(chan notification, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.RateLimit.Enabled {
		m.rateLimiter = NewRateLimiter(cfg.RateLimit.Interval, cfg.RateLimit.MaxEvents)
	}

	// Initialize enabled notifiers
	if cfg.Webhook.Enabled {
		if n, err := NewWebhookNotifier(&cfg.Webhook, logger); err == nil {
			m.notifiers[NotifierWebhook] = n
		} else {
			logger.Error("Failed to initialize webhook notifier", zap.Error(err))
		}
	}

	if cfg.Slack.Enabled {
		if n, err := NewSlackNotifier(&cfg.Slack, logger); err == nil {
			m.notifiers[NotifierSlack] = n
		} else {
			logger.Error("Failed to initialize slack notifier", zap.Error(err))
		}
	}

	// Start notification processor
	m.wg.Add(1)
	go m.processNotifications()

	return m, nil
}

// Register adds or replaces a notifier
func (m *Manager) Register(t NotifierType, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[t] = n
}

// processNotifications handles notification sending in background
func (m *Manager) processNotifications() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.drain()
			return
		case n := <-m.notifyChan:
			m.deliver(n)
		}
	}
}

// drain delivers what is still queued at shutdown
func (m *Manager) drain() {
	for {
		select {
		case n := <-m.notifyChan:
			m.deliver(n)
		default:
			return
		}
	}
}

func (m *Manager) deliver(n notification) {
	m.mu.RLock()
	notifier, ok := m.notifiers[n.notifierType]
	m.mu.RUnlock()

	if !ok {
		return
	}

	if !m.rateLimiter.AllowNotification(n.notifierType) {
		m.logger.Warn("Rate limit exceeded for notifier",
			zap.String("type", string(n.notifierType)))
		return
	}

	if err := n.notifyFunc(notifier); err != nil {
		m.logger.Error("Failed to send notification",
			zap.String("type", string(n.notifierType)),
			zap.Error(err))
	}
}

// enqueue fans fn out to every notifier without blocking the caller
func (m *Manager) enqueue(fn func(Notifier) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dropped int
	for t := range m.notifiers {
		select {
		case m.notifyChan <- notification{notifierType: t, notifyFunc: fn}:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w: dropped %d notification(s)", ErrQueueFull, dropped)
	}
	return nil
}

// NotifyEntityFailures queues a notification for a cycle with failed entities
func (m *Manager) NotifyEntityFailures(report *types.CycleReport) error {
	return m.enqueue(func(n Notifier) error {
		return n.NotifyEntityFailures(report)
	})
}

// NotifyCycleError queues a notification for an aborted cycle
func (m *Manager) NotifyCycleError(window types.SyncWindow, err error) error {
	failure := &CycleError{Window: window, Error: err.Error()}
	return m.enqueue(func(n Notifier) error {
		return n.NotifyCycleError(failure)
	})
}

// Stop gracefully stops the notification manager
func (m *Manager) Stop() error {
	// Signal processNotifications to stop
	m.cancel()
	// Wait for all notifications to be processed
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for notifications to complete")
	}
}

// Health checks the health of every notifier
func (m *Manager) Health(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for t, n := range m.notifiers {
		if err := n.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// IsEnabled checks if notifications are enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Enabled
}

// IsNotifierEnabled checks if a notifier is enabled
func (m *Manager) IsNotifierEnabled(notifierType NotifierType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.notifiers[notifierType]
	return ok
}
