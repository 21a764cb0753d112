package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alecgard/pantry/internal/account"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and administer identity usage records",
}

var accountTest bool

var accountCreateCmd = &cobra.Command{
	Use:   "create <identity>",
	Short: "Provision a free-plan usage record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, b *backends, _ *quota.Tracker) error {
			rec, err := b.accounts.Create(ctx, account.CreateInput{Identity: args[0], IsTestAccount: accountTest})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var accountUsageCmd = &cobra.Command{
	Use:   "usage <identity>",
	Short: "Show the current week's usage for an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, _ *backends, t *quota.Tracker) error {
			usage, err := t.GetWeeklyUsage(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), usage)
		})
	},
}

var accountResetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Zero a test account's daily and weekly counters and clear their anchors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, _ *backends, t *quota.Tracker) error {
			if err := t.ResetForTestAccount(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset weekly usage for %s\n", args[0])
			return nil
		})
	},
}

var accountTogglePlanCmd = &cobra.Command{
	Use:   "toggle-plan <identity>",
	Short: "Flip a test account between free and premium",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, _ *backends, t *quota.Tracker) error {
			plan, err := t.TogglePlanForTestAccount(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now on the %s plan\n", args[0], plan)
			return nil
		})
	},
}

func init() {
	accountCreateCmd.Flags().BoolVar(&accountTest, "test", false, "mark the record as a test account")
	accountCmd.AddCommand(accountCreateCmd, accountUsageCmd, accountResetCmd, accountTogglePlanCmd)
	rootCmd.AddCommand(accountCmd)
}

// withTracker opens the configured backends for the duration of fn.
func withTracker(cmd *cobra.Command, fn func(ctx context.Context, b *backends, t *quota.Tracker) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Quota.StoreTimeout)
	defer cancel()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b, newTracker(cfg, b))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
