package main

import (
	"fmt"

	"github.com/alecgard/pantry/internal/auth"
	"github.com/spf13/cobra"
)

var keygenAdmin string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a service key, or hash an admin key with --admin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if keygenAdmin != "" {
			hash, err := auth.HashAdminKey(keygenAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "admin_key_hash: %q\n", hash)
			return nil
		}

		key, plaintext, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "key:    %s\n", plaintext)
		fmt.Fprintf(out, "prefix: %s\n", key.Prefix)
		fmt.Fprintf(out, "hash:   %s\n", key.Hash)
		fmt.Fprintln(out, "add the hash under auth.service_keys; the key is not shown again")
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenAdmin, "admin", "", "admin key to hash with bcrypt")
	rootCmd.AddCommand(keygenCmd)
}
