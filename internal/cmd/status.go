package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
)

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	rec, err := p.Store.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return exitError(ExitNotFound, "Job not found", err)
		}
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	return printRecord(cmd.OutOrStdout(), rec)
}

func printRecord(out io.Writer, rec *job.Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v == "" {
			v = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k, v)
	}
	row("Job ID", rec.JobID)
	row("User", rec.UserID)
	row("Input", rec.InputFileName)
	row("Input key", rec.InputKey)
	row("Status", string(rec.Status))
	row("Submitted", formatTime(rec.SubmittedAt()))
	row("Started", formatTime(rec.StartedAt()))
	row("Attempts", fmt.Sprint(rec.Attempts))
	if rec.RequeuePending {
		row("Requeue", "pending")
	}
	row("Completed", formatTime(rec.CompletedAt()))
	row("Result key", rec.ResultKey)
	row("Log key", rec.LogKey)
	if rec.Status == job.StatusCompleted {
		row("Storage", string(rec.Storage()))
	}
	row("Archive ID", rec.ArchiveID)
	row("Retrieval ID", rec.RetrievalID)
	row("Restored", formatTime(rec.RestoredAt()))
	return w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
