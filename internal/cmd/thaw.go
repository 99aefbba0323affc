package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
)

var thawCmd = &cobra.Command{
	Use:   "thaw",
	Short: "Run the thaw finalizer",
	Long: `Consume "retrieval requested" messages from the restore queue. Each
finished retrieval is copied back to its original results key, the job is
marked RESTORED and the archive is deleted. Retrievals still in progress are
released and checked again after queues.not_ready_delay.

Example:
  gas thaw --config gas.yaml`,
	RunE: runThaw,
}

func init() {
	rootCmd.AddCommand(thawCmd)
}

func runThaw(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	thawer, err := p.Thawer()
	if err != nil {
		return err
	}
	consumer, err := p.Consumer(p.Config.Queues.Restore)
	if err != nil {
		return exitError(ExitConfig, "Failed to open restore queue", err)
	}
	thawer.Register(consumer)

	waitHealth, err := startHealth(ctx, p.Config, consumer)
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Thaw finalizer running",
		zap.String("queue", consumer.Name()),
		zap.Duration("not_ready_delay", p.Config.Queues.NotReadyDelay))
	runConsumers(ctx, consumer)
	waitHealth()
	return nil
}
