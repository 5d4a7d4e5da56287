// File: cmd/state_test.go
package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/store"
)

func TestStateCmd_ShowAndClear(t *testing.T) {
	dir := isolate(t)

	// Seed a running request through the same file backend.
	cfg := config.NewDefaultConfig()
	cfg.Store.Backend = "file"
	cfg.Store.Path = dir + "/store.json"
	require.NoError(t, useStore(context.Background(), cfg, zaptest.NewLogger(t), func(ctx context.Context, st store.Store) error {
		s := schemas.NewRequestState("open the settings page", time.Now())
		s.Append("Click settings link", "document.querySelector('a').click();", schemas.TranscriptEntry{Prompt: "p", Reply: "r"})
		return st.SaveState(ctx, s)
	}))

	out, err := executeCommand(t, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"userRequest": "open the settings page"`)
	assert.Contains(t, out, "Click settings link")

	out, err = executeCommand(t, "state", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "State cleared.")

	out, err = executeCommand(t, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"done": true`)
	assert.NotContains(t, out, "Click settings link")
}

func TestKeyCmd(t *testing.T) {
	isolate(t)

	out, err := executeCommand(t, "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No API key is stored.")

	out, err = executeCommand(t, "key", "set", "sk-secret")
	require.NoError(t, err)
	assert.Contains(t, out, "API key saved.")
	assert.NotContains(t, out, "sk-secret")

	out, err = executeCommand(t, "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "An API key is stored.")

	_, err = executeCommand(t, "key", "set", "  ")
	assert.Error(t, err)

	_, err = executeCommand(t, "key", "clear")
	require.NoError(t, err)
	out, err = executeCommand(t, "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No API key is stored.")
}
