// File: cmd/state.go
package cmd

import (
	"context"
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/store"
)

// openStore is swapped out in tests.
var openStore = store.New

func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	return useStore(cmd.Context(), cfg, observability.GetLogger(), fn)
}

func useStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(ctx context.Context, st store.Store) error) error {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store.", zap.Error(err))
		}
	}()
	return fn(ctx, st)
}

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the persisted action loop state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				state, err := st.LoadState(ctx)
				if err != nil {
					return err
				}
				out, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(state, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode state: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Reset the state to idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				if err := st.ClearState(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "State cleared.")
				return nil
			})
		},
	})
	return cmd
}
