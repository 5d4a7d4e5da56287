package schemas

import "context"

// -- LLM Client Interface --

// GenerationRequest is a single-turn request to a text-generation service.
type GenerationRequest struct {
	Model     string
	MaxTokens int
	Prompt    string
}

// GenerationResponse is the text reply plus the accounting the service reported.
type GenerationResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// LLMClient defines the interface for interacting with a text-generation
// service. Implementations send one user message and return the reply text.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error)
	Close() error
}
