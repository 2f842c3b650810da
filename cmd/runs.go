package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medreg/registry-cli/internal/model"
)

var (
	runsActive bool
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List crawl executions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var execs []*model.Execution
		if runsActive {
			execs, err = env.Execs.ListActive(ctx)
		} else {
			execs, err = env.Execs.ListRecent(ctx, runsLimit)
		}
		if err != nil {
			return eris.Wrap(err, "list executions")
		}

		if len(execs) == 0 {
			fmt.Fprintln(os.Stderr, "No executions found.")
			return nil
		}

		formatExecutions(os.Stdout, execs)
		return nil
	},
}

// formatExecutions writes a tabular list of executions to w.
func formatExecutions(out io.Writer, execs []*model.Execution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tREGIONS\tPAGE_SIZE\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t---------\t-------\t--------")

	for _, e := range execs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(e.ID),
			e.Status,
			summarizeRegions(e.Params.Regions),
			e.PageSize,
			e.CreatedAt.Format("2006-01-02 15:04"),
			executionDuration(e),
		)
	}
	_ = w.Flush()
}

// summarizeRegions compacts long region lists for display.
func summarizeRegions(regions []string) string {
	if len(regions) == len(model.AllRegions) {
		return "all"
	}
	if len(regions) > 4 {
		return fmt.Sprintf("%s +%d", strings.Join(regions[:4], ","), len(regions)-4)
	}
	return strings.Join(regions, ",")
}

func executionDuration(e *model.Execution) string {
	if e.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	return end.Sub(*e.StartedAt).Round(time.Second).String()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsCmd.Flags().BoolVar(&runsActive, "active", false, "show only executions that can still make progress")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max number of executions to display")
	rootCmd.AddCommand(runsCmd)
}
