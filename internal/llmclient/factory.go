// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/observability"
)

// NewClient builds the provider client named by cfg and wraps it with rate
// limiting and instrumentation. apiKey overrides cfg.APIKey when non-empty.
func NewClient(ctx context.Context, cfg config.LLMConfig, apiKey string, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	if apiKey == "" {
		apiKey = cfg.APIKey
	}

	var (
		base schemas.LLMClient
		err  error
	)
	switch provider := config.LLMProvider(strings.ToLower(string(cfg.Provider))); provider {
	case config.ProviderAnthropic, "":
		base, err = NewAnthropicClient(cfg, apiKey, logger)
	case config.ProviderGemini:
		base, err = NewGeminiClient(ctx, cfg, apiKey, logger)
	case config.ProviderOpenAI:
		base, err = NewOpenAIClient(cfg, apiKey, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderAnthropic, config.ProviderGemini, config.ProviderOpenAI)
	}
	if err != nil {
		return nil, err
	}

	name := string(cfg.Provider)
	if name == "" {
		name = string(config.ProviderAnthropic)
	}
	limited := NewRateLimitedClient(base, cfg.RequestsPerMinute)
	return NewInstrumentedClient(limited, name, cfg.Timeout, metrics, logger), nil
}
