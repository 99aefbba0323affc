package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

var launchesCmd = &cobra.Command{
	Use:   "launches",
	Short: "Inspect execution stage launches on this host",
	Long: `Inspect the launch records the dispatch worker writes for every
execution stage it starts: state, pid, exit code and captured output paths.`,
}

var launchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List launches, newest first",
	RunE:  runLaunchesList,
}

var launchesStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the launch record for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runLaunchesStatus,
}

func init() {
	rootCmd.AddCommand(launchesCmd)
	launchesCmd.AddCommand(launchesListCmd)
	launchesCmd.AddCommand(launchesStatusCmd)

	launchesListCmd.Flags().Bool("json", false, "Output as JSON")
	launchesStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func launchStore(cmd *cobra.Command) (*handoff.Store, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	ws, err := workspace.New(cfg.Execution.JobsDir)
	if err != nil {
		return nil, err
	}
	return handoff.NewStore(ws.LaunchRoot()), nil
}

func runLaunchesList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := launchStore(cmd)
	if err != nil {
		return err
	}
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No launches found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tMODE\tSTATE\tPID\tEXIT\tSTARTED\tDURATION")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.JobID,
			r.Mode,
			r.State,
			pidString(r.PID),
			exitString(r.ExitCode),
			formatTime(r.CreatedAt),
			durationString(r),
		)
	}
	return nil
}

func runLaunchesStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := launchStore(cmd)
	if err != nil {
		return err
	}
	r, err := store.Get(args[0])
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return exitError(ExitNotFound, "No launch recorded for job", err)
		}
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintf(w, "Job ID\t%s\n", r.JobID)
	_, _ = fmt.Fprintf(w, "Mode\t%s\n", r.Mode)
	_, _ = fmt.Fprintf(w, "State\t%s\n", r.State)
	_, _ = fmt.Fprintf(w, "PID\t%s\n", pidString(r.PID))
	_, _ = fmt.Fprintf(w, "Exit code\t%s\n", exitString(r.ExitCode))
	_, _ = fmt.Fprintf(w, "Started\t%s\n", formatTime(r.CreatedAt))
	_, _ = fmt.Fprintf(w, "Duration\t%s\n", durationString(*r))
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "Error\t%s\n", r.Error)
	}
	if r.StdoutPath != "" {
		_, _ = fmt.Fprintf(w, "Stdout\t%s\n", r.StdoutPath)
		_, _ = fmt.Fprintf(w, "Stderr\t%s\n", r.StderrPath)
	}
	return nil
}

func pidString(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}

func exitString(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprint(*code)
}

func durationString(r handoff.LaunchRecord) string {
	if d := r.Duration(); d > 0 {
		return d.Round(time.Millisecond).String()
	}
	return "-"
}
