// internal/llmclient/middleware.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/observability"
)

// RateLimitedClient spaces out calls to the wrapped client.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows perMinute calls per minute with a burst of one.
// A non-positive rate disables limiting.
func NewRateLimitedClient(next schemas.LLMClient, perMinute float64) *RateLimitedClient {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.GenerationResponse{}, fmt.Errorf("rate limiter wait: %w", err)
	}
	return c.next.Generate(ctx, req)
}

func (c *RateLimitedClient) Close() error { return c.next.Close() }

// InstrumentedClient bounds each call by a timeout and records its outcome.
type InstrumentedClient struct {
	next     schemas.LLMClient
	provider string
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewInstrumentedClient wraps next. metrics may be nil.
func NewInstrumentedClient(next schemas.LLMClient, provider string, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *InstrumentedClient {
	return &InstrumentedClient{
		next:     next,
		provider: provider,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.Named("llm_client"),
	}
}

func (c *InstrumentedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.next.Generate(ctx, req)
	if err != nil {
		c.metrics.IncLLMRequest(c.provider, "error")
		c.logger.Warn("LLM generation failed.",
			zap.String("provider", c.provider),
			zap.String("model", req.Model),
			zap.Error(err))
		return schemas.GenerationResponse{}, err
	}
	c.metrics.IncLLMRequest(c.provider, "ok")
	return resp, nil
}

func (c *InstrumentedClient) Close() error { return c.next.Close() }
