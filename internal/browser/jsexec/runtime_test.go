package jsexec_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/browser/jsexec"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const homeHTML = `<html><head><title>Home</title></head><body>
<nav><a id="settings" href="/settings">Settings</a><a href="#top">Top</a></nav>
<button id="go">Go</button>
<input id="q" value="hello">
</body></html>`

const settingsHTML = `<html><head><title>Settings</title></head><body><h1>Settings</h1></body></html>`

// newTestRuntime is a helper to set up a runtime over a small two-page site.
func newTestRuntime(t *testing.T) *jsexec.Runtime {
	t.Helper()
	page, err := jsexec.NewPage("https://example.test/", homeHTML)
	require.NoError(t, err)
	page.Route("https://example.test/settings", settingsHTML)
	return jsexec.NewRuntime(zaptest.NewLogger(t), page)
}

func eval(t *testing.T, rt *jsexec.Runtime, code string) string {
	t.Helper()
	raw, err := rt.Evaluate(context.Background(), code, true)
	require.NoError(t, err)
	return string(raw)
}

func TestEvaluate_Values(t *testing.T) {
	rt := newTestRuntime(t)

	tests := []struct {
		name string
		code string
		want string
	}{
		{"number", "1 + 2", `3`},
		{"string", "'a' + 'b'", `"ab"`},
		{"object", "({a: 1, b: [true, null]})", `{"a":1,"b":[true,null]}`},
		{"undefined", "undefined", `null`},
		{"function", "(function(){})", `null`},
		{"multi statement", "var x = 2; x * 3", `6`},
		{"resolved promise", "Promise.resolve(5)", `5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, eval(t, rt, tt.code))
		})
	}
}

func TestEvaluate_WithoutCapture(t *testing.T) {
	rt := newTestRuntime(t)
	raw, err := rt.Evaluate(context.Background(), "var y = 10;", false)
	require.NoError(t, err)
	assert.Nil(t, raw)

	// State persists across evaluations.
	assert.Equal(t, `10`, eval(t, rt, "y"))
}

func TestEvaluate_Errors(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Evaluate(context.Background(), "throw new Error('boom')", true)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	_, err = rt.Evaluate(context.Background(), "undefinedFn()", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefinedFn")

	_, err = rt.Evaluate(context.Background(), "Promise.reject(new Error('nope'))", true)
	require.Error(t, err)
	assert.Equal(t, "nope", err.Error())

	_, err = rt.Evaluate(context.Background(), "new Promise(function(){})", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not settle")
}

func TestEvaluate_Interrupt(t *testing.T) {
	rt := newTestRuntime(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rt.Evaluate(ctx, "while (true) {}", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The interrupt must not leak into the next run.
	assert.Equal(t, `2`, eval(t, rt, "1 + 1"))
}

func TestDOM(t *testing.T) {
	t.Run("document and location", func(t *testing.T) {
		rt := newTestRuntime(t)
		assert.Equal(t, `"Home"`, eval(t, rt, "document.title"))
		assert.Equal(t, `"https://example.test/"`, eval(t, rt, "location.href"))
		assert.Contains(t, eval(t, rt, "document.documentElement.outerHTML"), "Settings")
		assert.Equal(t, `"BUTTON"`, eval(t, rt, "document.querySelector('#go').tagName"))
		assert.Equal(t, `null`, eval(t, rt, "document.querySelector('#missing')"))
		assert.Equal(t, `2`, eval(t, rt, "document.querySelectorAll('nav a').length"))
	})

	t.Run("jquery helper", func(t *testing.T) {
		rt := newTestRuntime(t)
		assert.Equal(t, `2`, eval(t, rt, "$('a').length"))
		assert.Equal(t, `"Settings"`, eval(t, rt, "$('#settings').text()"))
		assert.Equal(t, `"/settings"`, eval(t, rt, "$('#settings').attr('href')"))
		assert.Equal(t, `"hello"`, eval(t, rt, "$('#q').val()"))
		assert.Equal(t, `0`, eval(t, rt, "$('nav').find('span').length"))
	})

	t.Run("native click follows link", func(t *testing.T) {
		rt := newTestRuntime(t)
		_, err := rt.Evaluate(context.Background(), `$('a:contains("Settings")')[0].click()`, false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/settings", rt.Page().URL())
		assert.Equal(t, "Settings", rt.Page().Title())
		assert.Equal(t, []string{"https://example.test/settings"}, rt.Page().Navigations())
		assert.Equal(t, []string{`a#settings "Settings"`}, rt.Page().Clicks())
	})

	t.Run("fragment links do not navigate", func(t *testing.T) {
		rt := newTestRuntime(t)
		_, err := rt.Evaluate(context.Background(), `$('a[href="#top"]').click()`, false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/", rt.Page().URL())
		assert.Len(t, rt.Page().Clicks(), 1)
	})

	t.Run("location assignment navigates", func(t *testing.T) {
		rt := newTestRuntime(t)
		_, err := rt.Evaluate(context.Background(), "window.location.href = '/settings'", false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/settings", rt.Page().URL())
	})

	t.Run("helper can be removed", func(t *testing.T) {
		rt := newTestRuntime(t)
		rt.SetHelperPresent(false)
		assert.Equal(t, `"undefined"`, eval(t, rt, "typeof $"))
		_, err := rt.Evaluate(context.Background(), "$('a')", true)
		assert.Error(t, err)
	})
}

func TestRealm_SignalsReadyAndServes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := bridge.NewBus(logger, 16)
	defer bus.Close()

	b := bridge.New(bus.Endpoint("main"), bridge.Options{Origin: "main", Nonce: "n", RequestTimeout: time.Second}, logger)
	defer b.Close()

	rt := newTestRuntime(t)
	rt.SetHelperPresent(false)
	realm := jsexec.StartRealm(bus.Endpoint("main"), rt, bridge.ListenerOptions{Origin: "main", Nonce: "n"}, logger)
	defer realm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, b.WaitReady(ctx), "no readiness before the helper exists")

	rt.SetHelperPresent(true)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, b.WaitReady(ctx2))

	res, err := b.Send(context.Background(), "({url: location.href, title: document.title})", true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.test/","title":"Home"}`, string(res.Value))
}
