package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
)

var executeCmd = &cobra.Command{
	Use:   "execute <input_path> <job_id> <input_file_name> <owner_path>",
	Short: "Run the execution stage for one claimed job",
	Long: `Run the annotation tool on a staged input, upload the result and log,
complete the job record and publish the completion notice.

The dispatch worker launches this command; it is rarely run by hand.`,
	Args: cobra.ExactArgs(4),
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	task := handoff.Task{InputPath: args[0], JobID: args[1], InputFileName: args[2], OwnerPath: args[3]}

	// A dispatcher shutdown must not interrupt a running job.
	ctx := context.WithoutCancel(cmd.Context())
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	stage, err := p.Stage(p.Tool(os.Stdout, os.Stderr))
	if err != nil {
		return err
	}
	if err := stage.Run(ctx, task); err != nil {
		observability.CLILogger.Error("Execution failed", zap.String("job_id", task.JobID), zap.Error(err))
		return exitError(ExitFailure, "Execution failed", err)
	}
	return nil
}
