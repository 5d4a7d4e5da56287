// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/internal/config"
)

// Manager owns the Chrome process and the pages opened in it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// NewManager launches Chrome according to cfg.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	log := logger.Named("browser_manager")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, ExecOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	log.Info("Browser launched.", zap.Bool("headless", cfg.Headless))

	return &Manager{
		cfg:           cfg,
		logger:        log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// OpenPage opens a new tab with the page shim installed.
func (m *Manager) OpenPage(ctx context.Context, opts PageOptions) (*Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is closed")
	}
	m.mu.Unlock()

	if opts.HelperURL == "" {
		opts.HelperURL = m.cfg.HelperURL
	}
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = m.cfg.NavigationTimeout
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	p, err := newPage(ctx, tabCtx, tabCancel, opts, m.logger)
	if err != nil {
		tabCancel()
		return nil, err
	}

	m.mu.Lock()
	m.pages = append(m.pages, p)
	m.mu.Unlock()
	return p, nil
}

// Close closes every page and shuts the browser down.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := m.pages
	m.pages = nil
	m.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Browser closed.")
	return nil
}
