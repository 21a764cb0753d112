package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecgard/pantry/internal/device"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect and administer the anonymous device store",
}

var deviceIDCmd = &cobra.Command{
	Use:   "id",
	Short: "Print this installation's device ID, creating it if absent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, b *backends, _ *quota.Tracker) error {
			id, err := device.EnsureID(ctx, b.devices)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var deviceUsageCmd = &cobra.Command{
	Use:   "usage <device-id>",
	Short: "Show the current week's anonymous usage for a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, _ *backends, t *quota.Tracker) error {
			usage, err := t.GetAnonymousUsage(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), usage)
		})
	},
}

var deviceClearYes bool

var deviceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every key in the device store, including anonymous counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deviceClearYes {
			return errors.New("refusing to clear the device store without --yes")
		}
		return withTracker(cmd, func(ctx context.Context, b *backends, _ *quota.Tracker) error {
			if err := b.devices.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "device store cleared")
			return nil
		})
	},
}

func init() {
	deviceClearCmd.Flags().BoolVar(&deviceClearYes, "yes", false, "confirm the wipe")
	deviceCmd.AddCommand(deviceIDCmd, deviceUsageCmd, deviceClearCmd)
	rootCmd.AddCommand(deviceCmd)
}
