package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Re-queue jobs stuck in RUNNING",
	Long: `Find RUNNING jobs whose latest claim is older than reaper.stale_after,
flag them for requeue and publish a new "job requested" message so a
dispatch worker can claim them again. Jobs that reached reaper.max_attempts
are reported and left alone.

Example:
  gas reap --config gas.yaml
  gas reap --config gas.yaml --interval 10m`,
	RunE: runReap,
}

var reapInterval time.Duration

func init() {
	rootCmd.AddCommand(reapCmd)
	reapCmd.Flags().DurationVar(&reapInterval, "interval", 0, "Repeat at this interval (overrides reaper.interval)")
}

func runReap(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	r, err := p.Reaper()
	if err != nil {
		return err
	}

	interval := p.Config.Reaper.Interval
	if cmd.Flags().Changed("interval") {
		interval = reapInterval
	}
	if interval > 0 {
		return r.RunPeriodic(ctx, interval)
	}

	sum, err := r.Reap(ctx)
	if err != nil {
		return exitError(ExitFailure, "Reap failed", err)
	}
	observability.CLILogger.Info("Reap finished",
		zap.Int("stale", sum.Stale),
		zap.Int("requeued", sum.Requeued),
		zap.Int("exhausted", sum.Exhausted),
		zap.Int("failed", sum.Failed))
	return nil
}
