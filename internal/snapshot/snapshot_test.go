package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domrelay/internal/bridge"
)

const page = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Account</title>
  <meta charset="utf-8">
  <meta name="description" content="Your account">
  <link rel="stylesheet" href="/site.css">
  <style>body { color: red }</style>
  <script>window.track()</script>
</head>
<body style="margin:0" data-page="account">
  <img src="/logo.png" srcset="/logo@2x.png 2x" alt="Logo">
  <a   href="/settings"
       data-testid="nav-settings">Settings</a>
</body>
</html>`

func TestSanitize(t *testing.T) {
	out, err := Sanitize(page)
	require.NoError(t, err)

	for _, gone := range []string{"<script", "<style", "<link", "charset", "lang=", "style=", "src=", "srcset=", "data-"} {
		assert.NotContains(t, out, gone)
	}
	assert.Contains(t, out, `<meta name="description" content="Your account"/>`)
	assert.Contains(t, out, `<a href="/settings">Settings</a>`)
	assert.Contains(t, out, `alt="Logo"`)
	assert.Contains(t, out, "<title>Account</title>")
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "  ", "whitespace runs must collapse")
	assert.Equal(t, strings.TrimSpace(out), out)
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("hello", 10)
	assert.Equal(t, "hello", s)
	assert.False(t, cut)

	s, cut = Truncate("hello world", 5)
	assert.Equal(t, "hello", s)
	assert.True(t, cut)

	s, cut = Truncate("héllo", 2) // é is two bytes starting at index 1
	assert.Equal(t, "h", s)
	assert.True(t, cut)
	assert.True(t, utf8.ValidString(s))

	s, cut = Truncate("anything", 0)
	assert.Equal(t, "anything", s)
	assert.False(t, cut)
}

type fakeRequester struct {
	res  bridge.Result
	err  error
	code string
}

func (f *fakeRequester) Send(_ context.Context, code string, capture bool) (bridge.Result, error) {
	f.code = code
	return f.res, f.err
}

func TestCapture(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"url": "https://example.test/account", "html": page})
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		r := &fakeRequester{res: bridge.Result{Value: payload}}
		snap, err := Capture(context.Background(), r, 40)
		require.NoError(t, err)
		assert.Equal(t, captureScript, r.code)
		assert.Equal(t, "https://example.test/account", snap.URL)
		assert.LessOrEqual(t, len(snap.HTML), 40)
		assert.True(t, snap.Truncated)
		assert.Greater(t, snap.OriginalLength, 40)
	})

	t.Run("transport error", func(t *testing.T) {
		r := &fakeRequester{err: bridge.ErrRequestTimeout}
		_, err := Capture(context.Background(), r, 100)
		assert.True(t, errors.Is(err, bridge.ErrRequestTimeout))
	})

	t.Run("page error", func(t *testing.T) {
		r := &fakeRequester{res: bridge.Result{Err: "document is not defined"}}
		_, err := Capture(context.Background(), r, 100)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "document is not defined")
	})

	t.Run("empty document", func(t *testing.T) {
		r := &fakeRequester{res: bridge.Result{Value: json.RawMessage(`{"url":"about:blank","html":""}`)}}
		_, err := Capture(context.Background(), r, 100)
		assert.Error(t, err)
	})
}
