// internal/generator/adapter.go
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/snapshot"
)

// ErrAdapterFailure marks an Outcome whose generation call did not complete.
var ErrAdapterFailure = errors.New("generation adapter failure")

// Outcome is the result of one GenerateAction call.
//
// Err != nil: the adapter failed (service error, cancelled, panic); Action
// and Exchange are zero. Err == nil with an empty Action: the service
// answered but nothing usable could be parsed.
type Outcome struct {
	Action   schemas.GeneratedAction
	Exchange schemas.TranscriptEntry
	Err      error
}

// Failed reports whether the adapter itself failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Options configures an Adapter.
type Options struct {
	Model       string
	MaxTokens   int
	MaxSnapshot int
}

// Adapter turns a page snapshot and the loop state into the next action.
type Adapter struct {
	client schemas.LLMClient
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewAdapter creates an Adapter over client.
func NewAdapter(client schemas.LLMClient, opts Options, logger *zap.Logger) *Adapter {
	return &Adapter{
		client: client,
		opts:   opts,
		logger: logger.Named("adapter"),
		now:    time.Now,
	}
}

// GenerateAction asks the service for the next step. It does not return
// errors or panic; every failure is reported through Outcome.Err.
func (a *Adapter) GenerateAction(ctx context.Context, snap snapshot.Snapshot, state schemas.ActionLoopState) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Recovered from panic during action generation.", zap.Any("panic_value", r), zap.Stack("stack"))
			out = Outcome{Err: fmt.Errorf("%w: panic: %v", ErrAdapterFailure, r)}
		}
	}()

	page, truncated := snapshot.Truncate(snap.HTML, a.opts.MaxSnapshot)
	if truncated {
		a.logger.Debug("Snapshot truncated for prompt.", zap.Int("limit", a.opts.MaxSnapshot))
	}
	prompt := ComposePrompt(PromptInput{
		Snapshot:    page,
		URL:         snap.URL,
		UserRequest: state.UserRequest,
		History:     state.DescriptionHistory,
	})

	resp, err := a.client.Generate(ctx, schemas.GenerationRequest{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		Prompt:    prompt,
	})
	if err != nil {
		a.logger.Warn("Generation service call failed.", zap.Error(err))
		return Outcome{Err: fmt.Errorf("%w: %w", ErrAdapterFailure, err)}
	}

	action := ParseReply(resp.Text)
	if action.Empty() {
		a.logger.Warn("Reply contained no recognizable fields.", zap.Int("reply_length", len(resp.Text)))
	}
	a.logger.Debug("Parsed generated action.",
		zap.String("description", action.Description),
		zap.Int("code_length", len(action.Code)),
		zap.Bool("done", action.Done))

	return Outcome{
		Action: action,
		Exchange: schemas.TranscriptEntry{
			Prompt:       prompt,
			Reply:        resp.Text,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CreatedAt:    a.now(),
		},
	}
}
