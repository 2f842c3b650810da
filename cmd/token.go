package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the captcha token the crawler depends on",
	Long:  "The portal requires a solved captcha per session. Obtain a token through the portal login flow and store it here; crawls pause when it expires.",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <value>",
	Short: "Store a fresh captcha token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ttl := tokenTTL
		if ttl == 0 {
			ttl = time.Duration(cfg.Crawl.TokenTTLSecs) * time.Second
		}

		if err := env.Guard.Store(ctx, args[0], ttl); err != nil {
			return err
		}
		fmt.Printf("Token stored, valid for %s.\n", ttl)
		return nil
	},
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current token's remaining lifetime",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		remaining, err := env.Guard.RemainingSeconds(ctx)
		if err != nil {
			return err
		}
		if remaining == 0 {
			fmt.Println("No valid token. Store one with 'regcrawl token set <value>'.")
			return nil
		}
		fmt.Printf("Token valid for another %s.\n", time.Duration(remaining)*time.Second)
		return nil
	},
}

var tokenClearExpired bool

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if tokenClearExpired {
			if err := env.Guard.CleanupExpired(ctx); err != nil {
				return err
			}
			fmt.Println("Expired tokens cleared.")
			return nil
		}

		if err := env.Guard.Delete(ctx); err != nil {
			return err
		}
		fmt.Println("Tokens cleared.")
		return nil
	},
}

func init() {
	tokenSetCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default from config)")
	tokenClearCmd.Flags().BoolVar(&tokenClearExpired, "expired", false, "delete only expired tokens")
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenClearCmd)
	rootCmd.AddCommand(tokenCmd)
}
