package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive free users' results past the grace period",
	Long: `Scan the results bucket for result files, and move each one owned by a
free user whose grace period has passed to the cold-storage vault.

Without --interval (or sweep.interval) a single pass runs and the command
exits; with one it repeats until interrupted.

Example:
  gas sweep --config gas.yaml
  gas sweep --config gas.yaml --interval 5m`,
	RunE: runSweep,
}

var sweepInterval time.Duration

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Repeat the sweep at this interval (overrides sweep.interval)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	sweeper, err := p.Sweeper()
	if err != nil {
		return exitError(ExitConfig, "Failed to create sweeper", err)
	}

	interval := p.Config.Sweep.Interval
	if cmd.Flags().Changed("interval") {
		interval = sweepInterval
	}
	if interval > 0 {
		waitHealth, err := startHealth(ctx, p.Config)
		if err != nil {
			return err
		}
		defer waitHealth()
		return sweeper.RunPeriodic(ctx, interval)
	}

	sum, err := sweeper.Sweep(ctx)
	if err != nil {
		return exitError(ExitFailure, "Sweep failed", err)
	}
	observability.CLILogger.Info("Sweep finished",
		zap.Int("scanned", sum.Scanned),
		zap.Int("archived", sum.Archived),
		zap.Int("resumed", sum.Resumed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("duration", sum.Duration))
	return nil
}
