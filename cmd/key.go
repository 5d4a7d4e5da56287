// File: cmd/key.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/domrelay/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the API key used for the text-generation service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Store the API key; it takes precedence over config and environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if key == "" {
				return errors.New("the API key must not be empty")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				if err := st.SetAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key saved.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				if err := st.SetAPIKey(ctx, ""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether a key is stored, without printing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				_, err := st.APIKey(ctx)
				switch {
				case err == nil:
					fmt.Fprintln(cmd.OutOrStdout(), "An API key is stored.")
				case errors.Is(err, store.ErrAPIKeyNotSet):
					fmt.Fprintln(cmd.OutOrStdout(), "No API key is stored.")
				default:
					return err
				}
				return nil
			})
		},
	})
	return cmd
}
