package notify

import (
	"context"

	"cfgkeeper/internal/types"
)

// NotifierType represents the type of notifier
type NotifierType string

const (
	NotifierWebhook NotifierType = "webhook"
	NotifierSlack   NotifierType = "slack"
)

// Event types carried in notifications
const (
	EventEntityFailures = "sync.entity_failures"
	EventCycleError     = "sync.cycle_error"
)

// CycleError describes a cycle that could not run to completion
type CycleError struct {
	Window types.SyncWindow `json:"window"`
	Error  string           `json:"error"`
}

// Notifier represents notifier interface
type Notifier interface {
	// NotifyEntityFailures reports the entities a cycle failed to archive
	NotifyEntityFailures(report *types.CycleReport) error

	// NotifyCycleError reports a cycle that aborted before processing entries
	NotifyCycleError(failure *CycleError) error

	// Health checks the health of the notifier
	Health(ctx context.Context) error
}
