package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medreg/registry-cli/internal/model"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a crawl execution",
	Long:  "Marks the execution cancelled. A running crawl observes the status at the next region boundary and stops.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Execs.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if status.Terminal() {
			fmt.Printf("Execution %s is already %s.\n", args[0], status)
			return nil
		}
		if status == model.ExecutionRunning {
			fmt.Println("Execution is running; it will stop after the current region.")
		}

		if err := env.Execs.Cancel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Execution %s cancelled.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
