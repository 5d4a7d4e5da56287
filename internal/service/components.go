// File: internal/service/components.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/agent"
	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/store"
)

// Components holds everything a running session needs and owns their
// lifecycle.
type Components struct {
	Config  *config.Config
	Store   store.Store
	LLM     schemas.LLMClient
	Realm   PageRealm
	Session *bridge.Session
	Loop    *agent.Loop
	Shell   *agent.Shell
	Metrics *observability.Metrics

	logger       *zap.Logger
	shutdownOnce sync.Once
}

// RunOptions are the per-invocation inputs of Run.
type RunOptions struct {
	// URL is loaded first; empty means browser.start_url.
	URL string
	// Request, when set, is submitted once the page is ready.
	Request string
}

// Run starts the loop and the shell, loads the start page and blocks until
// ctx is done or a component fails.
func (c *Components) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	if c.Config.Metrics.Enabled && c.Metrics != nil {
		g.Go(func() error {
			return observability.ServeMetrics(ctx, c.Config.Metrics.Addr, prometheusGatherer(), c.logger)
		})
	}

	g.Go(func() error {
		c.Loop.Run(ctx)
		return nil
	})
	c.Shell.Start(ctx)

	if err := c.Realm.Start(ctx); err != nil {
		return abort(fmt.Errorf("failed to start page realm: %w", err))
	}

	url := opts.URL
	if url == "" {
		url = c.Config.Browser.StartURL
	}
	if url != "" {
		if err := c.Realm.Navigate(ctx, url); err != nil {
			return abort(err)
		}
	}

	if opts.Request != "" {
		g.Go(func() error {
			if err := c.Session.WaitReady(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := c.Loop.Submit(ctx, opts.Request); err != nil && ctx.Err() == nil {
				return fmt.Errorf("failed to submit request: %w", err)
			}
			return nil
		})
	}

	c.logger.Info("Session running.", zap.String("url", url))
	<-ctx.Done()
	if err := g.Wait(); err != nil {
		return err
	}
	return context.Cause(ctx)
}

// Shutdown releases components in reverse order of creation. Safe on a
// partially built set and safe to call twice.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(c.shutdown)
}

func (c *Components) shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Shell != nil {
		c.Shell.Close()
		logger.Debug("Shell stopped.")
	}
	if c.Session != nil {
		_ = c.Session.Close()
		logger.Debug("Bridge closed.")
	}
	if c.Realm != nil {
		if err := c.Realm.Close(); err != nil {
			logger.Warn("Error closing page realm.", zap.Error(err))
		} else {
			logger.Debug("Page realm closed.")
		}
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing store.", zap.Error(err))
		} else {
			logger.Debug("Store closed.")
		}
	}
	logger.Info("All components shut down.")
}
