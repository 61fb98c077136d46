package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and print its report as JSON",
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
			defer a.close()

			if err := a.startReporter(cmd.Context()); err != nil {
				return err
			}

			report, err := a.runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if report == nil {
				logger.Info("No cycle due; the checkpointed window is younger than the polling interval")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
