// internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/domrelay/internal/config"
)

// ExecOptions translates the browser config into chromedp allocator options.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-dev-shm-usage", true),
		// DefaultExecAllocatorOptions is headless; here that is opt-in.
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}
