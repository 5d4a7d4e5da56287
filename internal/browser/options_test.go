// internal/browser/options_test.go
package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/domrelay/internal/config"
)

func TestExecOptions(t *testing.T) {
	t.Run("defaults are kept", func(t *testing.T) {
		base := len(chromedp.DefaultExecAllocatorOptions)
		opts := ExecOptions(config.BrowserConfig{})
		assert.GreaterOrEqual(t, len(opts), base+2)
	})

	t.Run("extra args", func(t *testing.T) {
		plain := len(ExecOptions(config.BrowserConfig{}))
		opts := ExecOptions(config.BrowserConfig{Args: []string{"--lang=de-DE", "mute-audio", "  ", "--"}})
		assert.Len(t, opts, plain+2, "blank args are skipped")
	})

	t.Run("sandbox and headless toggles add options", func(t *testing.T) {
		plain := len(ExecOptions(config.BrowserConfig{}))
		assert.Len(t, ExecOptions(config.BrowserConfig{NoSandbox: true}), plain+1)
		assert.Len(t, ExecOptions(config.BrowserConfig{Headless: true}), plain+1)
	})
}
