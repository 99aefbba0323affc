package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the dispatch worker",
	Long: `Consume "job requested" messages, claim each job, stage its input in the
jobs directory and launch the execution stage.

With execution.launcher=process each job runs as a supervised
'gas execute' child; with inline it runs in this process.

Example:
  gas dispatch --config gas.yaml
  gas dispatch --config gas.yaml --health-addr :8081`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

type waiter interface{ Wait() }

func runDispatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	launcher, err := p.Launcher(childArgs(), p.Tool(nil, nil), true)
	if err != nil {
		return exitError(ExitConfig, "Failed to create launcher", err)
	}
	worker, err := p.Dispatcher(launcher)
	if err != nil {
		return err
	}
	consumer, err := p.Consumer(p.Config.Queues.Requests)
	if err != nil {
		return exitError(ExitConfig, "Failed to open requests queue", err)
	}
	worker.Register(consumer)

	waitHealth, err := startHealth(ctx, p.Config, consumer)
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Dispatch worker running",
		zap.String("queue", consumer.Name()),
		zap.String("launcher", p.Config.Execution.Launcher))

	runConsumers(ctx, consumer)

	if w, ok := launcher.(waiter); ok {
		observability.CLILogger.Info("Waiting for running stages")
		w.Wait()
	}
	waitHealth()
	return nil
}
