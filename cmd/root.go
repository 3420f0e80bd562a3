// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/logging"
)

type loggerKeyType struct{}

var (
	cfgFile    string
	devLogging bool
	logLevel   string
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests monthly title listings and enriches them with metadata.",
		Long: `harvester walks a range of release months, renders each month's title
listing in a real browser, and enriches every new title with metadata
from the TMDB API before writing it to the configured outputs.`,
		SilenceUsage: true,

		// Build the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(devLogging, logLevel)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKeyType{}, logger))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			_ = loggerFrom(cmd.Context()).Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "human-readable development logging")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newHarvestCmd())
	return cmd
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKeyType{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
