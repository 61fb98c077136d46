// Package poller implements the change synchronization cycle.
//
// The engine holds no mutable state of its own. Callers keep the State
// returned by Initialize and hand it back to every Tick, which returns the
// state to use next time.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cfgkeeper/internal/entity"
	"cfgkeeper/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options controls the engine
type Options struct {
	PollingInterval time.Duration
	// CollapseDuplicates processes only the last occurrence of each entity
	// in a batch instead of every occurrence
	CollapseDuplicates bool
}

// State is carried between ticks
type State struct {
	Window    types.SyncWindow `json:"window"`
	Cycles    int64            `json:"cycles"`
	LastRun   time.Time        `json:"last_run,omitempty"`
	LastRunID string           `json:"last_run_id,omitempty"`
}

// Engine runs sync cycles
type Engine struct {
	audit     AuditSource
	snapshots SnapshotSource
	archiver  Archiver
	opts      Options
	logger    *zap.Logger
}

// NewEngine creates an engine
func NewEngine(audit AuditSource, snapshots SnapshotSource, archiver Archiver, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		audit:     audit,
		snapshots: snapshots,
		archiver:  archiver,
		opts:      opts,
		logger:    logger.Named("poller"),
	}
}

// Interval returns the polling interval
func (e *Engine) Interval() time.Duration {
	return e.opts.PollingInterval
}

// Initialize returns the starting state. The first window reaches one
// polling interval back from now.
func (e *Engine) Initialize(now time.Time) State {
	state := State{Window: types.InitialWindow(now, e.opts.PollingInterval)}
	e.logger.Info("Engine initialized",
		zap.Int64("window_start", state.Window.Start),
		zap.Int64("window_end", state.Window.End),
		zap.Duration("polling_interval", e.opts.PollingInterval))
	return state
}

// Tick runs a cycle if a polling interval has elapsed since the window
// start. When nothing is due it returns the state unchanged and a nil
// report. On success the next window starts right after now.
//
// A failed audit query or a cancelled context leaves the window where it
// was so the next tick covers the whole uncovered span.
func (e *Engine) Tick(ctx context.Context, state State, now time.Time) (State, *types.CycleReport, error) {
	nowMs := now.UnixMilli()
	if !state.Window.Due(nowMs, e.opts.PollingInterval) {
		return state, nil, nil
	}

	span := state.Window.Span(nowMs)
	report := &types.CycleReport{
		RunID:     uuid.NewString(),
		Window:    span,
		StartedAt: time.Now(),
	}
	logger := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.Int64("window_start", span.Start),
		zap.Int64("window_end", span.End))

	entries, err := e.audit.AuditLogs(ctx, span)
	if err != nil {
		logger.Error("Failed to fetch audit logs", zap.Error(err))
		return state, nil, fmt.Errorf("audit log query for %s: %w", span, err)
	}
	report.Entries = len(entries)

	if len(entries) == 0 {
		logger.Info("No changes in window")
	} else {
		logger.Info("Found audit changes", zap.Int("count", len(entries)))

		if e.opts.CollapseDuplicates {
			entries = latestPerEntity(entries)
		}
		for _, entry := range entries {
			report.Add(e.process(ctx, logger, entry))
		}
	}

	if err := ctx.Err(); err != nil {
		return state, report, fmt.Errorf("cycle %s interrupted: %w", report.RunID, err)
	}

	report.FinishedAt = time.Now()
	logger.Info("Cycle finished",
		zap.Int("committed", report.Committed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration()))

	next := State{
		Window:    state.Window.Next(nowMs),
		Cycles:    state.Cycles + 1,
		LastRun:   now,
		LastRunID: report.RunID,
	}
	return next, report, nil
}

// process handles one audit entry; failures stay confined to the entry
func (e *Engine) process(ctx context.Context, logger *zap.Logger, entry types.AuditLogEntry) types.EntityResult {
	result := types.EntityResult{
		Raw:       entry.EntityID,
		User:      entry.User,
		Timestamp: entry.Timestamp,
	}

	ref, err := entity.Parse(entry.EntityID)
	if err != nil {
		logger.Error("Failed to parse entity", zap.String("entity_id", entry.EntityID), zap.Error(err))
		result.Status = types.EntitySkipped
		result.Error = err.Error()
		return result
	}
	result.Ref = &ref

	snapshot, err := e.snapshots.SettingsObjects(ctx, ref)
	if err != nil {
		logger.Error("Failed to fetch config snapshot", zap.Stringer("entity", ref), zap.Error(err))
		result.Status = types.EntityFailed
		result.Error = err.Error()
		return result
	}

	record, err := e.archiver.Commit(ctx, ref, snapshot, entry.User, entry.Timestamp)
	if err != nil {
		fields := []zap.Field{zap.Stringer("entity", ref), zap.Error(err)}
		if errors.Is(err, types.ErrConflict) {
			logger.Warn("Archive record changed concurrently, leaving it for the next cycle", fields...)
		} else {
			logger.Error("Failed to commit snapshot", fields...)
		}
		result.Status = types.EntityFailed
		result.Error = err.Error()
		return result
	}

	result.Status = types.EntityCommitted
	result.Path = record.Path
	result.SHA = record.SHA
	return result
}

// latestPerEntity keeps the last occurrence of every raw identifier,
// preserving the relative order of the survivors
func latestPerEntity(entries []types.AuditLogEntry) []types.AuditLogEntry {
	last := make(map[string]int, len(entries))
	for i, entry := range entries {
		last[entry.EntityID] = i
	}

	out := make([]types.AuditLogEntry, 0, len(last))
	for i, entry := range entries {
		if last[entry.EntityID] == i {
			out = append(out, entry)
		}
	}
	return out
}
