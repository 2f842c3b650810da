package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/medreg/registry-cli/internal/execution"
	"github.com/medreg/registry-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show progress of a crawl execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		exec, err := env.Execs.Get(ctx, args[0])
		if err != nil {
			return err
		}
		states, err := env.Execs.States(ctx, exec.ID)
		if err != nil {
			return err
		}
		progress, err := env.Execs.Progress(ctx, exec.ID)
		if err != nil {
			return err
		}

		formatExecutionStatus(os.Stdout, exec, states, progress)
		return nil
	},
}

func formatExecutionStatus(out io.Writer, exec *model.Execution, states []*model.ExecutionState, p execution.Progress) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Execution:\t%s\n", exec.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", exec.Status)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", exec.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Pages:\t%d/%d fetched", p.FetchedPages, p.TotalPages)
	if p.FailedPages > 0 {
		_, _ = fmt.Fprintf(w, " (%d failed)", p.FailedPages)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", p.Records)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "REGION\tSTATUS\tPAGES\tRECORDS\tSTARTED")
	_, _ = fmt.Fprintln(w, "------\t------\t-----\t-------\t-------")
	for _, st := range states {
		pages := "-"
		if st.TotalPages != nil {
			pages = fmt.Sprintf("%d", *st.TotalPages)
		}
		records := "-"
		if st.TotalRecords != nil {
			records = fmt.Sprintf("%d", *st.TotalRecords)
		}
		started := "-"
		if st.StartedAt != nil {
			started = st.StartedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Region, st.Status, pages, records, started)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
