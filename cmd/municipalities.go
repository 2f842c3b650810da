package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/portal"
)

var municipalitiesCmd = &cobra.Command{
	Use:   "municipalities <region>",
	Short: "List a region's municipalities and their codes",
	Long:  "Lists the municipality codes the portal accepts for the --municipality filter of 'regcrawl plan'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		region := strings.ToUpper(strings.TrimSpace(args[0]))
		if !model.ValidRegion(region) {
			return eris.Errorf("unknown region code: %s", args[0])
		}

		client := portal.NewClient(cfg.Portal)
		municipalities, err := client.FetchMunicipalities(ctx, region)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CODE\tNAME")
		_, _ = fmt.Fprintln(w, "----\t----")
		for _, m := range municipalities {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Name)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(municipalitiesCmd)
}
