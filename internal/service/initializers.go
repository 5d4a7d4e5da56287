// File: internal/service/initializers.go
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/llmclient"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/store"
)

// ErrMissingAPIKey is a configuration error: no key in the store, the config
// file or the environment.
var ErrMissingAPIKey = errors.New("no API key configured (hint: run 'domrelay key set <key>' or set DOMRELAY_API_KEY)")

// KeySource is the part of the store that holds the API key.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// ResolveAPIKey returns the stored key, falling back to the configured one.
func ResolveAPIKey(ctx context.Context, keys KeySource, cfg config.LLMConfig) (string, error) {
	key, err := keys.APIKey(ctx)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, store.ErrAPIKeyNotSet):
	default:
		return "", fmt.Errorf("failed to read stored API key: %w", err)
	}
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	return "", ErrMissingAPIKey
}

// InitializeLLMClient resolves the API key and builds the configured client.
func InitializeLLMClient(ctx context.Context, keys KeySource, cfg config.LLMConfig, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	key, err := ResolveAPIKey(ctx, keys, cfg)
	if err != nil {
		return nil, err
	}
	client, err := llmclient.NewClient(ctx, cfg, key, logger, metrics)
	if err != nil {
		logger.Error("Failed to initialize LLM client.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return client, nil
}
