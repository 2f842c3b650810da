package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/model"
)

var (
	planRegions    string
	planPageSize   int
	planBatchSize  int
	planRegType    string
	planSituation  string
	planMunicip    string
	planStartPage  int
	planMaxResults int
	planRun        bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create a new crawl execution",
	Long:  "Registers a pending execution with one state per region. Run it with 'regcrawl run <id>'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		regions, err := parseRegions(planRegions)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pageSize := planPageSize
		if pageSize == 0 {
			pageSize = cfg.Crawl.PageSize
		}
		batchSize := planBatchSize
		if batchSize == 0 {
			batchSize = cfg.Crawl.BatchSize
		}

		params := model.ExecutionParams{
			Regions:          regions,
			RegistrationType: planRegType,
			Situation:        planSituation,
			Municipality:     planMunicip,
			StartPage:        planStartPage,
			MaxResults:       planMaxResults,
		}

		exec, err := env.Execs.Create(ctx, model.KindDoctor, pageSize, batchSize, params)
		if err != nil {
			return eris.Wrap(err, "plan execution")
		}

		zap.L().Info("execution planned",
			zap.String("execution_id", exec.ID),
			zap.Int("regions", len(regions)),
			zap.Int("page_size", pageSize),
			zap.Int("batch_size", batchSize))

		fmt.Printf("Execution %s planned (%d regions).\n", exec.ID, len(regions))

		if planRun {
			return runExecution(ctx, env, exec.ID)
		}
		fmt.Printf("Start it with: regcrawl run %s\n", exec.ID)
		return nil
	},
}

// parseRegions expands "all" and validates a comma-separated region list.
func parseRegions(s string) ([]string, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return model.AllRegions, nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		if !model.ValidRegion(code) {
			return nil, eris.Errorf("unknown region code: %s", code)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	if len(out) == 0 {
		return nil, eris.New("at least one region is required")
	}
	return out, nil
}

func init() {
	planCmd.Flags().StringVar(&planRegions, "regions", "all", "comma-separated region codes, or 'all'")
	planCmd.Flags().IntVar(&planPageSize, "page-size", 0, "records per page (default from config)")
	planCmd.Flags().IntVar(&planBatchSize, "batch-size", 0, "pages fetched per batch (default from config)")
	planCmd.Flags().StringVar(&planRegType, "registration-type", "", "filter by registration type")
	planCmd.Flags().StringVar(&planSituation, "situation", "", "filter by registration situation")
	planCmd.Flags().StringVar(&planMunicip, "municipality", "", "filter by municipality code")
	planCmd.Flags().IntVar(&planStartPage, "start-page", 0, "skip pages below this number (manual resume override)")
	planCmd.Flags().IntVar(&planMaxResults, "max-results", 0, "stop each run after this many records (0 = unlimited)")
	planCmd.Flags().BoolVar(&planRun, "run", false, "run the execution immediately after planning it")
	rootCmd.AddCommand(planCmd)
}
