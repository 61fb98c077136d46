package main

import (
	"fmt"

	"cfgkeeper/internal/agent/config"
	"cfgkeeper/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cfgkeeper",
		Short: "Archive monitoring platform configuration changes to a Git repository",
		Long: `cfgkeeper polls the monitoring platform audit log for configuration
changes and commits a snapshot of every changed entity to a Git repository
through its contents API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")

	cmd.AddCommand(
		newRunCmd(opts),
		newOnceCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and builds the process logger
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
