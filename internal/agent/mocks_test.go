package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/generator"
	"github.com/xkilldash9x/domrelay/internal/snapshot"
)

// -- Generator Mock --

// MockGenerator mocks agent.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateAction(ctx context.Context, snap snapshot.Snapshot, state schemas.ActionLoopState) generator.Outcome {
	args := m.Called(ctx, snap, state)
	return args.Get(0).(generator.Outcome)
}

// generatorFunc adapts a function to agent.Generator.
type generatorFunc func(ctx context.Context, snap snapshot.Snapshot, state schemas.ActionLoopState) generator.Outcome

func (f generatorFunc) GenerateAction(ctx context.Context, snap snapshot.Snapshot, state schemas.ActionLoopState) generator.Outcome {
	return f(ctx, snap, state)
}

func step(description, code string, done bool) generator.Outcome {
	return generator.Outcome{
		Action:   schemas.GeneratedAction{Description: description, Code: code, Done: done},
		Exchange: schemas.TranscriptEntry{Prompt: "p", Reply: description},
	}
}

func failure(msg string) generator.Outcome {
	return generator.Outcome{Err: errors.Join(generator.ErrAdapterFailure, errors.New(msg))}
}

// -- Page Fake --

// fakePage answers snapshot requests with a fixed document and records
// executed code.
type fakePage struct {
	mu       sync.Mutex
	url      string
	html     string
	executed []string
	execErr  string
	sendErr  error
	// runErr fails execution requests only, after recording them.
	runErr error
}

func newFakePage() *fakePage {
	return &fakePage{url: "https://example.test/", html: `<html><body><a href="/settings">Settings</a></body></html>`}
}

func (p *fakePage) Send(_ context.Context, code string, capture bool) (bridge.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return bridge.Result{}, p.sendErr
	}
	if capture {
		raw, _ := json.Marshal(map[string]string{"url": p.url, "html": p.html})
		return bridge.Result{Value: raw}, nil
	}
	p.executed = append(p.executed, code)
	if p.runErr != nil {
		return bridge.Result{}, p.runErr
	}
	if p.execErr != "" {
		return bridge.Result{Err: p.execErr}, nil
	}
	return bridge.Result{Value: json.RawMessage(`{}`)}, nil
}

func (p *fakePage) Executed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.executed...)
}

// -- Readiness Fake --

type readyGate chan struct{}

func (g readyGate) Ready() <-chan struct{} { return g }
