package notify

import (
	"context"

	"cfgkeeper/internal/config"
	"cfgkeeper/internal/notify"
	"cfgkeeper/internal/types"

	"go.uber.org/zap"
)

// Manager wraps the notification manager for the sync runner. A nil
// *Manager is valid and drops every notification.
type Manager struct {
	notifier *notify.Manager
	logger   *zap.Logger
}

// NewManager creates new notification manager for agent
func NewManager(cfg *config.NotifyConfig, logger *zap.Logger) (*Manager, error) {
	// Check if notifications are enabled
	if !cfg.Enabled {
		return nil, nil
	}

	notifier, err := notify.NewManager(cfg, logger.Named("notify"))
	if err != nil {
		return nil, err
	}

	return &Manager{
		notifier: notifier,
		logger:   logger,
	}, nil
}

// CycleCompleted notifies when the report contains failed entities
func (m *Manager) CycleCompleted(report *types.CycleReport) {
	if m == nil || report == nil || !report.HasFailures() {
		return
	}
	if err := m.notifier.NotifyEntityFailures(report); err != nil {
		m.logger.Warn("Failed to queue failure notification", zap.Error(err))
	}
}

// CycleFailed notifies about a cycle that aborted
func (m *Manager) CycleFailed(window types.SyncWindow, cause error) {
	if m == nil || cause == nil {
		return
	}
	if err := m.notifier.NotifyCycleError(window, cause); err != nil {
		m.logger.Warn("Failed to queue cycle error notification", zap.Error(err))
	}
}

// Health reports unhealthy notifiers; a disabled manager is always healthy
func (m *Manager) Health(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.notifier.Health(ctx)
}

// Close closes the notification manager
func (m *Manager) Close() error {
	if m != nil && m.notifier != nil {
		return m.notifier.Stop()
	}
	return nil
}
