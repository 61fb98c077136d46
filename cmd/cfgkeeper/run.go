package main

import (
	"os"
	"os/signal"
	"syscall"

	"cfgkeeper/internal/agent/handler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.startReporter(ctx); err != nil {
				a.close()
				return err
			}

			var h *handler.Handler
			if cfg.Status.Enabled {
				h = handler.NewHandler(cfg.Status.Address, a.runner, a.notifier, logger)
				if err := h.Start(ctx); err != nil {
					a.close()
					return err
				}
			}

			if err := a.runner.Start(ctx); err != nil {
				if h != nil {
					_ = h.Stop()
				}
				a.close()
				return err
			}

			logger.Info("Agent started",
				zap.String("url", cfg.URL),
				zap.String("git_url", cfg.GitURL),
				zap.Int("polling_interval_minutes", cfg.PollingInterval))

			<-ctx.Done()
			logger.Info("Starting graceful shutdown")

			if h != nil {
				if err := h.Stop(); err != nil {
					logger.Error("Failed to stop handler", zap.Error(err))
				}
			}
			a.close()

			logger.Info("Shutdown complete")
			return nil
		},
	}
}
