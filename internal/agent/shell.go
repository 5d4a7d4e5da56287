// File: internal/agent/shell.go
package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/bridge"
)

// ShellOptions identifies the page realm the overlay lives in.
type ShellOptions struct {
	Origin string
	Nonce  string
}

// Shell connects the page overlay to a Loop: submit messages become
// Loop.Submit calls and every status change is pushed back as a status
// message. It only reads loop state.
type Shell struct {
	ch     bridge.Channel
	loop   *Loop
	opts   ShellOptions
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewShell creates a shell. Call Start to begin relaying.
func NewShell(ch bridge.Channel, loop *Loop, opts ShellOptions, logger *zap.Logger) *Shell {
	return &Shell{
		ch:     ch,
		loop:   loop,
		opts:   opts,
		logger: logger.Named("shell"),
	}
}

// Start relays until ctx is done or Close is called.
func (s *Shell) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		events, unsubscribe := s.ch.Subscribe()

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			defer unsubscribe()
			s.receive(ctx, events)
		}()
		go func() {
			defer s.wg.Done()
			s.pushStatus(ctx)
		}()
	})
}

func (s *Shell) receive(ctx context.Context, events <-chan schemas.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			msg := env.Message
			if env.Origin != s.opts.Origin || msg.Sender != schemas.SenderPage ||
				msg.Kind != schemas.KindSubmit || msg.Nonce != s.opts.Nonce ||
				msg.Version != schemas.ProtocolVersion {
				continue
			}
			s.submit(ctx, msg.Text)
		}
	}
}

func (s *Shell) submit(ctx context.Context, text string) {
	err := s.loop.Submit(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyRequest):
		s.logger.Debug("Ignoring empty request from overlay.")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("Failed to submit request.", zap.Error(err))
	}
}

func (s *Shell) pushStatus(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-s.loop.StatusUpdates():
			if err := s.Publish(ctx, st); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Failed to push status.", zap.Error(err))
			}
		}
	}
}

// Publish sends st to the overlay.
func (s *Shell) Publish(ctx context.Context, st schemas.LoopStatus) error {
	return s.ch.Post(ctx, schemas.BridgeMessage{
		Version: schemas.ProtocolVersion,
		Kind:    schemas.KindStatus,
		Sender:  schemas.SenderContent,
		Nonce:   s.opts.Nonce,
		Status:  &st,
	})
}

// Close stops relaying and waits for both goroutines.
func (s *Shell) Close() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}
