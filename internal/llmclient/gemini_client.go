// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
)

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, apiKey string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends the prompt as a single user turn.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	})
	if err != nil {
		return schemas.GenerationResponse{}, fmt.Errorf("gemini generate content failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return schemas.GenerationResponse{}, errors.New("gemini API returned no candidates")
	}
	text := resp.Text()
	if text == "" {
		return schemas.GenerationResponse{}, fmt.Errorf("gemini API returned empty content (reason: %s)", resp.Candidates[0].FinishReason)
	}

	out := schemas.GenerationResponse{Text: text, Model: req.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int64(u.PromptTokenCount)
		out.OutputTokens = int64(u.CandidatesTokenCount)
	}
	c.logger.Info("LLM generation complete (Gemini)",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", out.InputTokens),
		zap.Int64("completion_tokens", out.OutputTokens),
	)
	return out, nil
}

// Close is a no-op; genai clients need no teardown.
func (c *GeminiClient) Close() error { return nil }
