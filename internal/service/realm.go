// File: internal/service/realm.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/browser"
	"github.com/xkilldash9x/domrelay/internal/browser/jsexec"
	"github.com/xkilldash9x/domrelay/internal/config"
)

// PageRealm is the page side of a session: the transport the bridge and the
// shell talk over, plus navigation.
type PageRealm interface {
	Channel() bridge.Channel
	Origin() string
	// Start begins serving the page side. The bridge subscribes before it is
	// called so the first readiness signal is not missed.
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	// OnNavigate registers fn to run each time the realm loads a new document.
	OnNavigate(fn func(url string))
	Close() error
}

// RealmOpener opens a page realm whose shim answers to nonce.
type RealmOpener func(ctx context.Context, cfg config.BrowserConfig, nonce string, logger *zap.Logger) (PageRealm, error)

// chromeRealm is a tab in a browser the realm owns.
type chromeRealm struct {
	*browser.Page
	manager *browser.Manager
}

// OpenChromeRealm launches Chrome and opens one tab with the page shim.
func OpenChromeRealm(ctx context.Context, cfg config.BrowserConfig, nonce string, logger *zap.Logger) (PageRealm, error) {
	mgr, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	page, err := mgr.OpenPage(ctx, browser.PageOptions{Nonce: nonce, Overlay: cfg.Overlay})
	if err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &chromeRealm{Page: page, manager: mgr}, nil
}

// Start is a no-op: the shim in the tab is already live and announces
// readiness again on every document.
func (r *chromeRealm) Start(context.Context) error { return nil }

func (r *chromeRealm) Close() error {
	return r.manager.Close()
}

// EmbeddedRealm serves an in-process document through the goja runtime on a
// message bus. It backs the sandbox and runs without a browser.
type EmbeddedRealm struct {
	Page    *jsexec.Page
	Runtime *jsexec.Runtime

	bus    *bridge.Bus
	nonce  string
	logger *zap.Logger
	realm  *jsexec.Realm
}

// EmbeddedOrigin is the origin every embedded realm posts from.
const EmbeddedOrigin = "embedded"

// NewEmbeddedRealm loads html at url. Call Start to begin serving it.
func NewEmbeddedRealm(url, html, nonce string, logger *zap.Logger) (*EmbeddedRealm, error) {
	page, err := jsexec.NewPage(url, html)
	if err != nil {
		return nil, err
	}
	return &EmbeddedRealm{
		Page:    page,
		Runtime: jsexec.NewRuntime(logger, page),
		bus:     bridge.NewBus(logger, 64),
		nonce:   nonce,
		logger:  logger,
	}, nil
}

// EmbeddedOpener returns a RealmOpener serving html at the configured start URL.
func EmbeddedOpener(html string) RealmOpener {
	return func(_ context.Context, cfg config.BrowserConfig, nonce string, logger *zap.Logger) (PageRealm, error) {
		return NewEmbeddedRealm(cfg.StartURL, html, nonce, logger)
	}
}

func (r *EmbeddedRealm) Channel() bridge.Channel { return r.bus.Endpoint(EmbeddedOrigin) }

func (r *EmbeddedRealm) Origin() string { return EmbeddedOrigin }

// Start serves eval requests and signals readiness once the helper is present.
func (r *EmbeddedRealm) Start(context.Context) error {
	if r.realm == nil {
		r.realm = jsexec.StartRealm(r.bus.Endpoint(EmbeddedOrigin), r.Runtime,
			bridge.ListenerOptions{Origin: EmbeddedOrigin, Nonce: r.nonce}, r.logger)
	}
	return nil
}

// Navigate moves the document; the runtime and its readiness survive it.
func (r *EmbeddedRealm) Navigate(_ context.Context, url string) error {
	return r.Page.Navigate(url)
}

// OnNavigate is a no-op: the embedded runtime keeps its state across loads.
func (r *EmbeddedRealm) OnNavigate(func(url string)) {}

func (r *EmbeddedRealm) Close() error {
	if r.realm != nil {
		r.realm.Close()
	}
	r.bus.Close()
	return nil
}
