// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
)

// OpenAIClient talks to OpenAI or any chat-completions compatible endpoint.
type OpenAIClient struct {
	client openai.Client
	logger *zap.Logger
}

// NewOpenAIClient initializes the client. BaseURL redirects it to a
// compatible service (Azure, a local model server).
func NewOpenAIClient(cfg config.LLMConfig, apiKey string, logger *zap.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: logger.Named("llm_client.openai"),
	}, nil
}

// Generate sends the prompt as a single user message.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		MaxTokens: openai.Int(int64(req.MaxTokens)),
	})
	if err != nil {
		return schemas.GenerationResponse{}, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return schemas.GenerationResponse{}, errors.New("openai returned no choices")
	}

	c.logger.Info("LLM generation complete (OpenAI)",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
	)
	return schemas.GenerationResponse{
		Text:         completion.Choices[0].Message.Content,
		Model:        completion.Model,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}

// Close is a no-op.
func (c *OpenAIClient) Close() error { return nil }
