// internal/llmclient/anthropic_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *zap.Logger
}

// NewAnthropicClient initializes the client. Retries are disabled: a failed
// call surfaces immediately and the caller decides what to do.
func NewAnthropicClient(cfg config.LLMConfig, apiKey string, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		logger: logger.Named("llm_client.anthropic"),
	}, nil
}

// Generate sends the prompt as a single user message.
func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return schemas.GenerationResponse{}, fmt.Errorf("anthropic messages request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return schemas.GenerationResponse{}, fmt.Errorf("anthropic returned no text content (stop reason: %s)", msg.StopReason)
	}

	c.logger.Info("LLM generation complete (Anthropic)",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", msg.Usage.InputTokens),
		zap.Int64("completion_tokens", msg.Usage.OutputTokens),
	)
	return schemas.GenerationResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// Close is a no-op; the SDK holds no resources that need releasing.
func (c *AnthropicClient) Close() error { return nil }
