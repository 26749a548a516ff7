package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/temporal"
)

var (
	cfgFile  string
	logLevel string

	features *config.Features
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "farmwise",
	Short: "Operate the farmwise advisory platform",
	Long: `farmwise talks to the same stores, agents and Temporal cluster as the
gateway and worker. Settings come from features.yaml (CONFIG_PATH or --config),
FARMWISE_* environment variables and a .env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = config.Path()
		}
		f, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		if logLevel != "" {
			f.Observability.Logging.Level = logLevel
		}
		f.Observability.Logging.Format = "console"
		l, err := config.NewLogger(f)
		if err != nil {
			return err
		}
		features, logger = f, l
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "features.yaml path (default $CONFIG_PATH or /app/config/features.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// dialEngine connects to Temporal. The caller closes the returned engine's client.
func dialEngine(ctx context.Context) (*temporal.Engine, error) {
	c, err := temporal.Dial(ctx, features.Temporal, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to Temporal at %s: %w", features.Temporal.Host, err)
	}
	return temporal.NewEngine(c, logger), nil
}
