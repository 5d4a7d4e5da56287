package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/snapshot"
)

// MockLLMClient mocks schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.GenerationResponse), args.Error(1)
}

func (m *MockLLMClient) Close() error { return nil }

type panickingClient struct{}

func (panickingClient) Generate(context.Context, schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	panic("provider exploded")
}

func (panickingClient) Close() error { return nil }

var testOptions = Options{Model: "claude-3-sonnet-20240229", MaxTokens: 1024, MaxSnapshot: 64}

func testState() schemas.ActionLoopState {
	s := schemas.NewRequestState("open the settings page", time.Unix(0, 0))
	s.Append("Scrolled down", "window.scrollBy(0, 500);", schemas.TranscriptEntry{})
	return s
}

func TestAdapter_GenerateAction(t *testing.T) {
	client := new(MockLLMClient)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Model == testOptions.Model &&
			req.MaxTokens == 1024 &&
			strings.Contains(req.Prompt, "open the settings page") &&
			strings.Contains(req.Prompt, "Scrolled down") &&
			strings.Contains(req.Prompt, "https://example.test/")
	})).Return(schemas.GenerationResponse{
		Text: wellFormedReply, Model: "claude-3-sonnet-20240229", InputTokens: 100, OutputTokens: 20,
	}, nil).Once()

	a := NewAdapter(client, testOptions, zaptest.NewLogger(t))
	a.now = func() time.Time { return fixed }

	out := a.GenerateAction(context.Background(), snapshot.Snapshot{URL: "https://example.test/", HTML: "<body></body>"}, testState())
	require.NoError(t, out.Err)
	assert.False(t, out.Failed())
	assert.Equal(t, "Click settings link", out.Action.Description)
	assert.False(t, out.Action.Done)
	assert.Equal(t, wellFormedReply, out.Exchange.Reply)
	assert.Equal(t, int64(100), out.Exchange.InputTokens)
	assert.Equal(t, fixed, out.Exchange.CreatedAt)
	assert.Contains(t, out.Exchange.Prompt, "open the settings page")
	client.AssertExpectations(t)
}

func TestAdapter_TruncatesSnapshot(t *testing.T) {
	client := new(MockLLMClient)
	long := strings.Repeat("x", 200)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.Prompt, strings.Repeat("x", 64)) && !strings.Contains(req.Prompt, strings.Repeat("x", 65))
	})).Return(schemas.GenerationResponse{Text: "Done: true"}, nil).Once()

	a := NewAdapter(client, testOptions, zaptest.NewLogger(t))
	out := a.GenerateAction(context.Background(), snapshot.Snapshot{HTML: long}, testState())
	require.NoError(t, out.Err)
	assert.True(t, out.Action.Done)
	client.AssertExpectations(t)
}

func TestAdapter_ServiceFailure(t *testing.T) {
	client := new(MockLLMClient)
	upstream := errors.New("529 overloaded")
	client.On("Generate", mock.Anything, mock.Anything).Return(schemas.GenerationResponse{}, upstream).Once()

	core, logs := observer.New(zap.WarnLevel)
	a := NewAdapter(client, testOptions, zap.New(core))
	out := a.GenerateAction(context.Background(), snapshot.Snapshot{}, testState())

	require.Error(t, out.Err)
	assert.True(t, out.Failed())
	assert.ErrorIs(t, out.Err, ErrAdapterFailure)
	assert.ErrorIs(t, out.Err, upstream)
	assert.True(t, out.Action.Empty())
	assert.Equal(t, 1, logs.FilterMessage("Generation service call failed.").Len())
}

func TestAdapter_UnusableReplyIsNotAFailure(t *testing.T) {
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(schemas.GenerationResponse{Text: "I cannot see any settings link."}, nil).Once()

	a := NewAdapter(client, testOptions, zaptest.NewLogger(t))
	out := a.GenerateAction(context.Background(), snapshot.Snapshot{}, testState())

	require.NoError(t, out.Err)
	assert.True(t, out.Action.Empty())
	assert.Equal(t, "I cannot see any settings link.", out.Exchange.Reply)
}

func TestAdapter_RecoversPanic(t *testing.T) {
	a := NewAdapter(panickingClient{}, testOptions, zaptest.NewLogger(t))
	var out Outcome
	require.NotPanics(t, func() {
		out = a.GenerateAction(context.Background(), snapshot.Snapshot{}, testState())
	})
	assert.ErrorIs(t, out.Err, ErrAdapterFailure)
	assert.Contains(t, out.Err.Error(), "provider exploded")
}
