package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent run-log entries",
	Long:  "Lists state transitions recorded by ingestion runs, newest first. Use --run-id to follow one run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reader, closeSink, err := initRunLog(ctx, cfg, st)
		if err != nil {
			return err
		}
		if closeSink != nil {
			defer closeSink()
		}

		runID, _ := cmd.Flags().GetString("run-id")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := reader.Recent(ctx, runID, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No run-log entries found.")
			return nil
		}

		formatEntries(os.Stdout, entries)
		return nil
	},
}

// formatEntries writes a tabular list of run-log entries to w.
func formatEntries(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tFAMILY\tPROCESSED\tWRITTEN\tSKIPPED\tAT\tERROR")
	_, _ = fmt.Fprintln(w, "---\t------\t------\t---------\t-------\t-------\t--\t-----")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(e.RunID),
			e.Status,
			e.Family,
			e.Processed,
			e.Written,
			e.Skipped,
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	runsCmd.Flags().String("run-id", "", "only entries of this run")
	runsCmd.Flags().Int("limit", 50, "max number of entries to display")
	rootCmd.AddCommand(runsCmd)
}
