// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/internal/agent"
	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/generator"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/store"
)

// ComponentFactory builds the components of a session. Tests substitute the
// realm and the store.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// FactoryOptions overrides how the factory opens its external resources.
// Zero values select the production implementations.
type FactoryOptions struct {
	OpenRealm RealmOpener
	OpenStore func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error)
	// Metrics overrides the default registry-backed collectors.
	Metrics *observability.Metrics
}

type concreteFactory struct {
	opts FactoryOptions
}

// NewComponentFactory creates a factory. With no options it launches Chrome
// and opens the configured store.
func NewComponentFactory(opts FactoryOptions) ComponentFactory {
	if opts.OpenRealm == nil {
		opts.OpenRealm = OpenChromeRealm
	}
	if opts.OpenStore == nil {
		opts.OpenStore = store.New
	}
	return &concreteFactory{opts: opts}
}

func prometheusGatherer() prometheus.Gatherer { return prometheus.DefaultGatherer }

// Create wires store, LLM client, page realm, bridge, adapter, loop and shell.
// A missing API key fails here, before any browser is launched.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			c.Shutdown()
		}
	}()

	c.Metrics = f.opts.Metrics
	if c.Metrics == nil && cfg.Metrics.Enabled {
		c.Metrics = observability.DefaultMetrics()
	}

	// 1. Store
	st, err := f.opts.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open state store: %w", err)
		return nil, initializationErr
	}
	c.Store = st

	// 2. LLM client. The key is checked before anything else is started.
	llm, err := InitializeLLMClient(ctx, st, cfg.LLM, logger, c.Metrics)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.LLM = llm

	// 3. Page realm. The shim needs the nonce before the page exists.
	nonce := bridge.NewNonce()
	realm, err := f.opts.OpenRealm(ctx, cfg.Browser, nonce, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open page realm: %w", err)
		return nil, initializationErr
	}
	c.Realm = realm

	// 4. Bridge, renewed on every new document.
	c.Session = bridge.NewSession(realm.Channel(), bridge.Options{
		Origin:         realm.Origin(),
		Nonce:          nonce,
		RequestTimeout: cfg.Bridge.RequestTimeout,
		Metrics:        c.Metrics,
	}, logger)
	realm.OnNavigate(func(string) { c.Session.Renew() })

	// 5. Adapter and loop.
	adapter := generator.NewAdapter(llm, generator.Options{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxSnapshot: cfg.Snapshot.MaxLength,
	}, logger)
	c.Loop = agent.NewLoop(agent.Options{
		Store:       st,
		Page:        c.Session,
		Generator:   adapter,
		Readiness:   c.Session,
		Config:      cfg.Loop,
		MaxSnapshot: cfg.Snapshot.MaxLength,
		Metrics:     c.Metrics,
	}, logger)

	// Each ready document picks up an unfinished request.
	c.Session.OnReady(func() {
		if _, err := c.Loop.ResumeIfRunning(ctx); err != nil {
			logger.Warn("Failed to resume request.", zap.Error(err))
		}
	})

	// 6. Shell for the page overlay.
	c.Shell = agent.NewShell(realm.Channel(), c.Loop, agent.ShellOptions{
		Origin: realm.Origin(),
		Nonce:  nonce,
	}, logger)

	logger.Info("All components initialized.",
		zap.String("llm_provider", string(cfg.LLM.Provider)),
		zap.String("store_backend", cfg.Store.Backend))
	return c, nil
}
