package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/medreg/registry-cli/internal/reconcile"
)

var countRegions string

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Compare remote totals against stored records per region",
	Long:  "Probes the portal for each region's authoritative record count and compares it against the local table, so gaps from blocked or interrupted crawls are visible.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		regions, err := parseRegions(countRegions)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec := reconcile.New(env.Portal, env.Doctors, env.Guard, env.Pool)
		rows, err := rec.Reconcile(ctx, regions)
		if err != nil {
			return err
		}

		formatCounts(os.Stdout, rows)
		return nil
	},
}

func formatCounts(out io.Writer, rows []reconcile.Row) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tREMOTE\tLOCAL\tMISSING")
	_, _ = fmt.Fprintln(w, "------\t------\t-----\t-------")
	for _, row := range rows {
		if row.RemoteTotal == reconcile.ProbeFailed {
			_, _ = fmt.Fprintf(w, "%s\t?\t%d\t?\n", row.Region, row.LocalTotal)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", row.Region, row.RemoteTotal, row.LocalTotal, row.Missing)
	}

	s := reconcile.Summarize(rows)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Remote total:\t%d\n", s.RemoteTotal)
	_, _ = fmt.Fprintf(w, "Local total:\t%d\n", s.LocalTotal)
	_, _ = fmt.Fprintf(w, "Missing:\t%d\n", s.Missing)
	_, _ = fmt.Fprintf(w, "Coverage:\t%.1f%%\n", s.Coverage)
	if s.FailedProbes > 0 {
		_, _ = fmt.Fprintf(w, "Failed probes:\t%d\n", s.FailedProbes)
	}
	_ = w.Flush()
}

func init() {
	countCmd.Flags().StringVar(&countRegions, "regions", "all", "comma-separated region codes, or 'all'")
	rootCmd.AddCommand(countCmd)
}
