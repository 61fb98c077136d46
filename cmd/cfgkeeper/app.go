package main

import (
	"context"
	"fmt"

	"cfgkeeper/internal/agent/config"
	agentNotify "cfgkeeper/internal/agent/notify"
	"cfgkeeper/internal/agent/poller"
	"cfgkeeper/internal/agent/reporter"
	"cfgkeeper/internal/agent/scheduler"
	"cfgkeeper/internal/archive"
	"cfgkeeper/internal/checkpoint"
	"cfgkeeper/internal/platform"
	"cfgkeeper/internal/retry"

	"go.uber.org/zap"
)

// app holds the wired components of one agent process
type app struct {
	runner   *scheduler.Runner
	reporter *reporter.Reporter
	notifier *agentNotify.Manager
	logger   *zap.Logger
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	platformClient := platform.New(platform.Options{
		URL:       cfg.URL,
		APIToken:  cfg.APIToken,
		VerifySSL: cfg.VerifySSL,
		Timeout:   cfg.Sync.Timeout,
		Policy:    retry.NewPolicy(&cfg.RateLimit, nil),
	}, logger)

	writer := archive.NewWriter(archive.Options{
		URL:       cfg.GitURL,
		User:      cfg.GitUser,
		Token:     cfg.GitToken,
		Committer: cfg.Committer,
		VerifySSL: cfg.VerifySSL,
		Timeout:   cfg.Sync.Timeout,
	}, logger)

	engine := poller.NewEngine(platformClient, platformClient, writer, poller.Options{
		PollingInterval:    cfg.PollingDuration(),
		CollapseDuplicates: cfg.Sync.CollapseDuplicates,
	}, logger)

	store, err := checkpoint.New(&cfg.Checkpoint, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := agentNotify.NewManager(&cfg.Notify, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize notifications: %w", err)
	}

	a := &app{notifier: notifier, logger: logger}

	var sink scheduler.ReportSink
	if cfg.Publish.Enabled {
		a.reporter = reporter.NewReporter(&cfg.Publish, logger)
		sink = a.reporter
	}

	a.runner = scheduler.NewRunner(engine, store, sink, notifier, scheduler.Options{
		TickInterval: cfg.Sync.TickInterval,
		RateLimitRetries: func() int64 {
			return platformClient.RateLimitRetries() + writer.RateLimitRetries()
		},
	}, logger)

	return a, nil
}

// startReporter starts the report publisher when one is configured
func (a *app) startReporter(ctx context.Context) error {
	if a.reporter == nil {
		return nil
	}
	return a.reporter.Start(ctx)
}

// close releases every component; the runner closes the checkpoint store
func (a *app) close() {
	if err := a.runner.Stop(); err != nil {
		a.logger.Error("Failed to stop runner", zap.Error(err))
	}
	if a.reporter != nil {
		if err := a.reporter.Stop(); err != nil {
			a.logger.Error("Failed to stop reporter", zap.Error(err))
		}
	}
	if err := a.notifier.Close(); err != nil {
		a.logger.Error("Failed to stop notifier", zap.Error(err))
	}
}
