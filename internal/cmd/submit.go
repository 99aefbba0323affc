package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit an input file for annotation",
	Long: `Upload a VCF input for a user, create its PENDING job record and
publish the "job requested" notification. Prints the new job id.

Example:
  gas submit sample.vcf --user 7f1e0a52 --config gas.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var submitUser string

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitUser, "user", "u", "", "Owning user id (required)")
	_ = submitCmd.MarkFlagRequired("user")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	rec, err := p.Submit(ctx, submitUser, args[0])
	if err != nil {
		if rec == nil {
			return exitError(ExitInvalidArgument, "Submit failed", err)
		}
		return exitError(ExitFailure, "Job created but not announced", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), rec.JobID)
	return nil
}
