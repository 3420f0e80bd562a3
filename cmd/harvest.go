package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/app"
	"github.com/JakeFAU/media-harvester/internal/config"
	"github.com/JakeFAU/media-harvester/internal/logging"
)

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest a range of release months",
		Example: `  harvester harvest --start 2003-01 --end 2003-12 --workers 3
  HARVESTER_ENRICHMENT_API_KEY=... harvester harvest --config harvester.yaml`,
		RunE: runHarvest,
	}
	flags := cmd.Flags()
	flags.String("start", "", "first month to harvest (YYYY-MM or YYYY)")
	flags.String("end", "", "last month to harvest (YYYY-MM or YYYY); defaults to the current month")
	flags.Int("workers", 0, "number of browser workers")
	flags.Int("max-items", 0, "stop claiming titles after this many (0 means no cap)")
	flags.String("driver", "", "browser driver: chromedp, rod or playwright")
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("json", "", "JSON Lines output path")
	flags.String("csv", "", "CSV output path")
	flags.String("status-addr", "", "serve /healthz, /readyz, /metrics and /stats on this address")
	return cmd
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	// Flags() includes the inherited persistent flags such as --dev.
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := applyLogging(cmd, cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	harvest, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init harvest: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := harvest.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	summary, err := harvest.Run(ctx)
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}
	if ctx.Err() != nil {
		logger.Warn("harvest interrupted", zap.Int64("units_done", summary.UnitsDone))
	}
	return nil
}

// applyLogging rebuilds the bootstrap logger from the loaded logging
// section so file and environment settings take effect.
func applyLogging(cmd *cobra.Command, lc config.LoggingConfig) (*zap.Logger, error) {
	logger, err := logging.New(lc.Development, lc.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	_ = loggerFrom(cmd.Context()).Sync()
	zap.ReplaceGlobals(logger)
	cmd.SetContext(context.WithValue(cmd.Context(), loggerKeyType{}, logger))
	return logger, nil
}
