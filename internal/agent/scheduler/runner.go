// Package scheduler drives the sync engine on a timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cfgkeeper/internal/agent/poller"
	"cfgkeeper/internal/checkpoint"
	"cfgkeeper/internal/types"

	"go.uber.org/zap"
)

// Engine is the state transition the runner drives
type Engine interface {
	Initialize(now time.Time) poller.State
	Interval() time.Duration
	Tick(ctx context.Context, state poller.State, now time.Time) (poller.State, *types.CycleReport, error)
}

// ReportSink receives finished cycle reports
type ReportSink interface {
	Report(report *types.CycleReport) error
}

// Notifier is told about failed entities and aborted cycles
type Notifier interface {
	CycleCompleted(report *types.CycleReport)
	CycleFailed(window types.SyncWindow, cause error)
}

// Options configures a Runner
type Options struct {
	TickInterval time.Duration
	// Clock defaults to time.Now
	Clock func() time.Time
	// RateLimitRetries reports the retries of every client, optional
	RateLimitRetries func() int64
}

// Status is a point-in-time view of the runner
type Status struct {
	Running          bool               `json:"running"`
	StartedAt        time.Time          `json:"started_at"`
	Uptime           string             `json:"uptime"`
	PollingInterval  string             `json:"polling_interval"`
	State            poller.State       `json:"state"`
	LastReport       *types.CycleReport `json:"last_report,omitempty"`
	LastError        string             `json:"last_error,omitempty"`
	LastErrorAt      *time.Time         `json:"last_error_at,omitempty"`
	RateLimitRetries int64              `json:"rate_limit_retries"`
}

// Runner invokes the engine periodically and on demand. Cycles never
// overlap.
type Runner struct {
	engine   Engine
	store    checkpoint.Store
	reporter ReportSink
	notifier Notifier
	opts     Options
	logger   *zap.Logger

	cycleMu sync.Mutex

	mu          sync.RWMutex
	state       poller.State
	initialized bool
	running     bool
	startTime   time.Time
	lastReport  *types.CycleReport
	lastErr     error
	lastErrAt   time.Time

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner. reporter and notifier may be nil.
func NewRunner(engine Engine, store checkpoint.Store, reporter ReportSink, notifier Notifier, opts Options, logger *zap.Logger) *Runner {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Second
	}
	if store == nil {
		store = checkpoint.NewMemory()
	}

	return &Runner{
		engine:   engine,
		store:    store,
		reporter: reporter,
		notifier: notifier,
		opts:     opts,
		logger:   logger.Named("scheduler"),
		trigger:  make(chan struct{}, 1),
	}
}

// Start restores the checkpoint and starts the tick loop
func (r *Runner) Start(ctx context.Context) error {
	if err := r.restore(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.running = true
	r.startTime = r.opts.Clock()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(loopCtx)

	r.logger.Info("Runner started", zap.Duration("tick_interval", r.opts.TickInterval))
	return nil
}

// Stop stops the tick loop and waits for a running cycle to return
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return r.store.Close()
}

// Trigger asks the loop to run a cycle soon. It returns false when a
// request is already pending.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce runs the engine once. A nil report without error means no cycle
// was due.
func (r *Runner) RunOnce(ctx context.Context) (*types.CycleReport, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if err := r.restore(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()

	next, report, err := r.engine.Tick(ctx, state, r.opts.Clock())
	if err != nil {
		r.recordError(err)
		if !errors.Is(err, context.Canceled) && r.notifier != nil {
			r.notifier.CycleFailed(state.Window, err)
		}
		return report, err
	}
	if report == nil {
		return nil, nil
	}

	r.mu.Lock()
	r.state = next
	r.lastReport = report
	r.mu.Unlock()

	if err := r.store.Save(ctx, next); err != nil {
		r.logger.Error("Failed to save checkpoint", zap.String("run_id", report.RunID), zap.Error(err))
	}

	if r.reporter != nil {
		if err := r.reporter.Report(report); err != nil {
			r.logger.Error("Failed to report cycle", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}
	if r.notifier != nil {
		r.notifier.CycleCompleted(report)
	}

	return report, nil
}

// Status returns the current runner status
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{
		Running:         r.running,
		StartedAt:       r.startTime,
		State:           r.state,
		LastReport:      r.lastReport,
		PollingInterval: r.engine.Interval().String(),
	}
	if r.running {
		status.Uptime = r.opts.Clock().Sub(r.startTime).Round(time.Second).String()
	}
	if r.lastErr != nil {
		at := r.lastErrAt
		status.LastError = r.lastErr.Error()
		status.LastErrorAt = &at
	}
	if r.opts.RateLimitRetries != nil {
		status.RateLimitRetries = r.opts.RateLimitRetries()
	}
	return status
}

// restore loads the checkpoint on first use, or initializes a fresh window
func (r *Runner) restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	state, err := r.store.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		state = r.engine.Initialize(r.opts.Clock())
	case err != nil:
		return fmt.Errorf("failed to load checkpoint: %w", err)
	default:
		if verr := state.Window.Validate(); verr != nil {
			r.logger.Warn("Discarding invalid checkpoint", zap.Error(verr))
			state = r.engine.Initialize(r.opts.Clock())
		} else {
			r.logger.Info("Resuming from checkpoint",
				zap.Int64("window_start", state.Window.Start),
				zap.Int64("window_end", state.Window.End),
				zap.Int64("cycles", state.Cycles))
		}
	}

	r.state = state
	r.initialized = true
	return nil
}

func (r *Runner) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
	r.lastErrAt = r.opts.Clock()
}

// loop runs a cycle immediately and then on every tick or trigger
func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	r.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx)
		case <-r.trigger:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("Sync cycle failed", zap.Error(err))
	}
}
