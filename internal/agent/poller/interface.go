package poller

import (
	"context"

	"cfgkeeper/internal/types"
)

// AuditSource lists the change events of a window
type AuditSource interface {
	// AuditLogs returns create/update events inside window, oldest first
	AuditLogs(ctx context.Context, window types.SyncWindow) ([]types.AuditLogEntry, error)
}

// SnapshotSource fetches the current configuration of an entity
type SnapshotSource interface {
	SettingsObjects(ctx context.Context, ref types.EntityReference) (types.ConfigSnapshot, error)
}

// Archiver persists a snapshot keyed by entity
type Archiver interface {
	Commit(ctx context.Context, ref types.EntityReference, snapshot types.ConfigSnapshot, user string, timestamp int64) (*types.ArchiveRecord, error)
}
