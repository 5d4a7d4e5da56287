// File: cmd/sandbox_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/service"
)

func sandboxBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	logger := zaptest.NewLogger(t)
	nonce := bridge.NewNonce()
	realm, err := service.NewEmbeddedRealm("https://sandbox.test/", sandboxHTML, nonce, logger)
	require.NoError(t, err)

	b := bridge.New(realm.Channel(), bridge.Options{Origin: realm.Origin(), Nonce: nonce, RequestTimeout: 2 * time.Second}, logger)
	t.Cleanup(func() {
		_ = b.Close()
		_ = realm.Close()
	})
	require.NoError(t, realm.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.WaitReady(ctx))
	return b
}

func TestEvalLine(t *testing.T) {
	b := sandboxBridge(t)
	ctx := context.Background()

	assert.Equal(t, `"Sandbox"`, evalLine(ctx, b, "document.title", 1000))
	assert.Equal(t, "{}", evalLine(ctx, b, ":nocap var x = 1;", 1000))
	assert.Contains(t, evalLine(ctx, b, "missingFunction()", 1000), "error:")
	assert.Equal(t, "", evalLine(ctx, b, "", 1000))
	assert.Equal(t, sandboxHelp, evalLine(ctx, b, ":help", 1000))

	snap := evalLine(ctx, b, ":snapshot", 1000)
	assert.True(t, strings.HasPrefix(snap, "https://sandbox.test/\n"))
	assert.Contains(t, snap, "<h1>Sandbox</h1>")
}

// scriptedReader feeds lines to runSandbox.
type scriptedReader struct {
	lines []string
	out   bytes.Buffer
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) Stdout() io.Writer { return &r.out }

func TestRunSandbox(t *testing.T) {
	b := sandboxBridge(t)

	rl := &scriptedReader{lines: []string{"1 + 1", "location.href", "quit", "never reached"}}
	require.NoError(t, runSandbox(context.Background(), rl, b, 1000))
	assert.Equal(t, "2\n\"https://sandbox.test/\"\n", rl.out.String())
	assert.Equal(t, []string{"never reached"}, rl.lines)

	rl = &scriptedReader{lines: []string{"document.title"}}
	require.NoError(t, runSandbox(context.Background(), rl, b, 1000), "EOF ends the session")
	assert.Equal(t, "\"Sandbox\"\n", rl.out.String())
}
