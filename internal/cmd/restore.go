package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/restore"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Run the restore initiator",
	Long: `Consume "restore requested" and "archived" messages from the archive
queue and start a vault retrieval for each archived result whose owner is
premium.

Example:
  gas restore --config gas.yaml`,
	RunE: runRestore,
}

var restoreRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request restores for every archived result of a user",
	Long: `Publish one "restore requested" message for each of the user's archived
results. Run this after the user's subscription has been upgraded.

Example:
  gas restore request --user 7f1e0a52 --config gas.yaml`,
	Args: cobra.NoArgs,
	RunE: runRestoreRequest,
}

var restoreUser string

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreRequestCmd)

	restoreRequestCmd.Flags().StringVarP(&restoreUser, "user", "u", "", "User id (required)")
	_ = restoreRequestCmd.MarkFlagRequired("user")
}

func runRestore(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	initiator, err := p.Initiator()
	if err != nil {
		return err
	}
	consumer, err := p.Consumer(p.Config.Queues.Archive)
	if err != nil {
		return exitError(ExitConfig, "Failed to open archive queue", err)
	}
	initiator.Register(consumer)

	waitHealth, err := startHealth(ctx, p.Config, consumer)
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Restore initiator running", zap.String("queue", consumer.Name()))
	runConsumers(ctx, consumer)
	waitHealth()
	return nil
}

func runRestoreRequest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	user := strings.TrimSpace(restoreUser)
	if user == "" {
		return exitError(ExitInvalidArgument, "Invalid --user", fmt.Errorf("user id is empty"))
	}

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	n, err := restore.RequestForUser(ctx, p.Store, p.Publisher, p.UpgradeRequest(user))
	if err != nil {
		return exitError(ExitFailure, "Restore request failed", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Requested restore of %d archived result(s) for %s\n", n, user)
	return nil
}
