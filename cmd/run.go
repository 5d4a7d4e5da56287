// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/service"
)

// newComponentFactory is swapped out in tests.
var newComponentFactory = service.NewComponentFactory

func newRunCmd() *cobra.Command {
	var (
		url      string
		request  string
		htmlFile string
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a page and act on requests typed into its overlay (Cmd/Ctrl+K)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}

			var opts service.FactoryOptions
			if htmlFile != "" {
				// Serve a local document in the embedded realm instead of Chrome.
				html, err := os.ReadFile(htmlFile)
				if err != nil {
					return fmt.Errorf("failed to read page: %w", err)
				}
				if url != "" {
					cfg.Browser.StartURL = url
				}
				url = ""
				opts.OpenRealm = service.EmbeddedOpener(string(html))
			}

			components, err := newComponentFactory(opts).Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			err = components.Run(ctx, service.RunOptions{URL: url, Request: request})
			if errors.Is(err, context.Canceled) {
				logger.Info("Interrupted, shutting down.", zap.Any("status", components.Loop.Status()))
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "page to open (default is browser.start_url)")
	cmd.Flags().StringVarP(&request, "request", "r", "", "request to start once the page is ready")
	cmd.Flags().StringVar(&htmlFile, "html", "", "serve this HTML file in the embedded realm instead of launching Chrome")
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chrome without a window")
	return cmd
}
