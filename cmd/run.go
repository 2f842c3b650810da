package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/crawl"
)

var runCmd = &cobra.Command{
	Use:   "run <execution-id>",
	Short: "Run or resume a crawl execution",
	Long:  "Crawls every pending region of the execution, one region at a time. Already-fetched pages are skipped, so rerunning after an interruption picks up where the last run stopped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runExecution(ctx, env, args[0])
	},
}

// runExecution drives one execution through the orchestrator and renders
// the outcome. Shared by the run command and 'plan --run'.
func runExecution(ctx context.Context, env *crawlEnv, executionID string) error {
	exec, err := env.Execs.Get(ctx, executionID)
	if err != nil {
		return err
	}

	onProgress := func(ev crawl.ProgressEvent) {
		env.Metrics.ObserveProgress(ev)
		zap.L().Info("batch processed",
			zap.String("region", ev.Region),
			zap.Int("first_page", ev.FirstPage),
			zap.Int("last_page", ev.LastPage),
			zap.Int("records", ev.Records),
			zap.Float64("percent", ev.Percent),
			zap.Duration("eta", ev.ETA))
	}

	orch := env.newOrchestrator(exec, onProgress)
	env.Metrics.ObserveStart()
	outcome, err := orch.Run(ctx, executionID)
	env.Metrics.ObserveOutcome(outcome)

	switch outcome {
	case crawl.OutcomeCompleted:
		progress, perr := env.Execs.Progress(ctx, executionID)
		if perr != nil {
			return perr
		}
		fmt.Printf("Execution %s completed: %d pages fetched, %d records.\n",
			executionID, progress.FetchedPages, progress.Records)
		return nil

	case crawl.OutcomeTokenExpired:
		fmt.Println("The captcha token is missing or expired. Store a fresh one with")
		fmt.Printf("'regcrawl token set <value>' and rerun: regcrawl run %s\n", executionID)
		return err

	case crawl.OutcomeStopped:
		fmt.Printf("Execution %s paused before finishing. Rerun to continue: regcrawl run %s\n",
			executionID, executionID)
		return nil

	case crawl.OutcomeBlocked:
		fmt.Println("The portal stopped returning records; the crawl looks blocked.")
		fmt.Println("Wait, refresh the captcha token, then rerun the execution.")
		return err

	default:
		if err == nil {
			err = eris.Errorf("execution %s failed", executionID)
		}
		return err
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
