// internal/browser/page.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/browser/shim"
)

const (
	// helperPollInterval is how often a new document is checked for jQuery.
	helperPollInterval = 100 * time.Millisecond
	// defaultEvalTimeout bounds a single evaluation in the main world.
	defaultEvalTimeout = 30 * time.Second
)

// PageOptions configures the shim installed in a page.
type PageOptions struct {
	Nonce             string
	HelperURL         string
	Overlay           bool
	NavigationTimeout time.Duration
	EvalTimeout       time.Duration
}

// Page is a Chrome tab acting as the page realm. Generated code runs in the
// page's main world through Runtime.evaluate; the overlay shim runs in an
// isolated world the page cannot reach.
type Page struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	opts     PageOptions
	frameID  string
	channel  *CDPChannel
	listener *bridge.Listener

	mu        sync.Mutex
	navHook   func(url string)
	stopWatch context.CancelFunc
}

func newPage(ctx, tabCtx context.Context, tabCancel context.CancelFunc, opts PageOptions, logger *zap.Logger) (*Page, error) {
	// The first Run on a tab context creates the target; it must not carry a
	// deadline or the tab would close when it expires.
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = defaultEvalTimeout
	}

	p := &Page{
		ctx:    tabCtx,
		cancel: tabCancel,
		logger: logger.Named("page"),
		opts:   opts,
	}

	script, err := shim.Build(shim.Config{
		Nonce:   opts.Nonce,
		Binding: BindingName,
		Overlay: opts.Overlay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build page shim: %w", err)
	}

	err = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		tree, err := page.GetFrameTree().Do(c)
		if err != nil {
			return fmt.Errorf("failed to read frame tree: %w", err)
		}
		p.frameID = string(tree.Frame.ID)
		return nil
	}))
	if err != nil {
		return nil, err
	}

	p.channel = newCDPChannel(p.frameID, p.evaluateInContext, p.logger)
	p.channel.OnMainFrameNavigated(p.mainFrameNavigated)
	chromedp.ListenTarget(tabCtx, p.channel.handleEvent)

	err = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := runtime.AddBinding(BindingName).WithExecutionContextName(WorldName).Do(c); err != nil {
			return fmt.Errorf("failed to expose binding (%s): %w", BindingName, err)
		}
		_, err := page.AddScriptToEvaluateOnNewDocument(script).
			WithWorldName(WorldName).
			WithRunImmediately(true).
			Do(c)
		if err != nil {
			return fmt.Errorf("failed to inject page shim persistently: %w", err)
		}

		// Re-enabling the runtime domain replays executionContextCreated for
		// the existing contexts, so the channel learns the shim's world.
		if err := runtime.Disable().Do(c); err != nil {
			return fmt.Errorf("failed to reset runtime domain: %w", err)
		}
		if err := runtime.Enable().Do(c); err != nil {
			return fmt.Errorf("failed to enable runtime domain: %w", err)
		}
		return nil
	}))
	if err != nil {
		p.channel.Close()
		return nil, err
	}

	p.listener = bridge.NewListener(p.channel, mainWorld{p}, bridge.ListenerOptions{
		Origin:      p.frameID,
		Nonce:       opts.Nonce,
		EvalTimeout: opts.EvalTimeout,
	}, p.logger)
	p.listener.Start()
	p.watchHelper()

	p.logger.Info("Page realm attached.", zap.String("frame_id", p.frameID))
	return p, nil
}

// Channel returns the page's bridge transport.
func (p *Page) Channel() bridge.Channel { return p.channel }

// Origin identifies the main frame. Messages from other frames carry a
// different origin and are ignored by the bridge.
func (p *Page) Origin() string { return p.frameID }

// Navigate loads url in the tab. The new document announces readiness once
// its helper is present.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.NavigationTimeout)
		defer cancel()
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	p.logger.Info("Navigated.", zap.String("url", url))
	return nil
}

// URL returns the current location of the tab.
func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// OnNavigate registers fn to run when the main frame commits a new document,
// before the new document is checked for readiness. fn runs on the tab's
// event goroutine and must not block.
func (p *Page) OnNavigate(fn func(url string)) {
	p.mu.Lock()
	p.navHook = fn
	p.mu.Unlock()
}

// Close closes the tab.
func (p *Page) Close() {
	p.mu.Lock()
	if p.stopWatch != nil {
		p.stopWatch()
	}
	p.mu.Unlock()
	if p.listener != nil {
		p.listener.Close()
	}
	p.channel.Close()
	p.cancel()
}

func (p *Page) mainFrameNavigated(url string) {
	p.mu.Lock()
	hook := p.navHook
	p.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	p.watchHelper()
}

// watchHelper restarts readiness detection for the current document.
func (p *Page) watchHelper() {
	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	if p.stopWatch != nil {
		p.stopWatch()
	}
	p.stopWatch = cancel
	p.mu.Unlock()
	go p.awaitHelper(ctx)
}

// awaitHelper polls the main world for jQuery, loads it once from the helper
// URL if the page lacks it, and announces readiness when it appears.
func (p *Page) awaitHelper(ctx context.Context) {
	ticker := time.NewTicker(helperPollInterval)
	defer ticker.Stop()

	injected := false
	for {
		var present bool
		err := p.run(ctx, chromedp.Evaluate(`typeof window.jQuery === "function"`, &present))
		switch {
		case err == nil && present:
			if ctx.Err() != nil {
				return
			}
			if err := p.channel.announceReady(ctx, p.opts.Nonce); err != nil {
				p.logger.Debug("Failed to announce readiness.", zap.Error(err))
			}
			return
		case err == nil && !injected && p.opts.HelperURL != "":
			injected = true
			if err := p.run(ctx, chromedp.Evaluate(helperLoader(p.opts.HelperURL), nil)); err != nil {
				p.logger.Debug("Failed to load helper.", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// helperLoader returns a script appending a <script src=url> to the document.
func helperLoader(url string) string {
	quoted, _ := json.Marshal(url)
	return `(function(){var s=document.createElement("script");s.src=` + string(quoted) +
		`;(document.head||document.documentElement).appendChild(s);})()`
}

// mainWorld evaluates bridge requests in the page's own realm.
type mainWorld struct{ p *Page }

func (m mainWorld) Evaluate(ctx context.Context, code string, capture bool) (json.RawMessage, error) {
	return m.p.evaluateMain(ctx, code, capture)
}

// evaluateMain runs code in the main world. With capture the code is tried
// as an expression first and falls back to statements if that does not
// compile. Promises are awaited.
func (p *Page) evaluateMain(ctx context.Context, code string, capture bool) (json.RawMessage, error) {
	expr := "(function(){" + code + "\n})()"
	var value json.RawMessage
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if capture {
			wrapped := "(function(){return " + code + "\n})()"
			if _, exc, err := runtime.CompileScript(wrapped, "", false).Do(c); err == nil && exc == nil {
				expr = wrapped
			}
		}
		res, exc, err := runtime.Evaluate(expr).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return errors.New(exceptionText(exc))
		}
		if res != nil && len(res.Value) > 0 {
			value = json.RawMessage(res.Value)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = json.RawMessage("null")
	}
	return value, nil
}

// exceptionText is the first line of the thrown value's description, for
// example "TypeError: x is not a function".
func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		line, _, _ := strings.Cut(exc.Exception.Description, "\n")
		return line
	}
	if exc.Text != "" {
		return exc.Text
	}
	return "Error"
}

func (p *Page) evaluateInContext(ctx context.Context, id runtime.ExecutionContextID, script string) error {
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, exc, err := runtime.Evaluate(script).WithContextID(id).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return errors.New(exceptionText(exc))
		}
		return nil
	}))
}

// run executes actions on the tab, bounded by ctx as well as the tab's life.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}
