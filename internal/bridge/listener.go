// File: internal/bridge/listener.go
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"go.uber.org/zap"
)

// Evaluator runs code inside a page realm. With capture the returned JSON is
// the code's value; without it the value is discarded. An error is a failure
// of the code itself and is reported back to the requester as data.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, capture bool) (json.RawMessage, error)
}

// successMarker settles requests made without capture.
var successMarker = json.RawMessage(`{}`)

// ListenerOptions configures a page-side Listener.
type ListenerOptions struct {
	Origin string
	Nonce  string
	// EvalTimeout bounds a single evaluation. Zero means no bound.
	EvalTimeout time.Duration
}

// Listener is the page-realm endpoint for realms hosted in this process. It
// evaluates eval requests one at a time and answers each with a response.
// A failing evaluation never stops it.
type Listener struct {
	ch     Channel
	eval   Evaluator
	opts   ListenerOptions
	logger *zap.Logger

	readyOnce sync.Once
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewListener creates a listener. Call Start to begin serving.
func NewListener(ch Channel, eval Evaluator, opts ListenerOptions, logger *zap.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		ch:     ch,
		eval:   eval,
		opts:   opts,
		logger: logger.Named("page_listener"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the channel and serves requests in the background.
func (l *Listener) Start() {
	l.startOnce.Do(func() {
		events, unsubscribe := l.ch.Subscribe()
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer unsubscribe()
			for {
				select {
				case <-l.ctx.Done():
					return
				case env, ok := <-events:
					if !ok {
						return
					}
					l.handle(env)
				}
			}
		}()
	})
}

// SignalReady announces readiness to the privileged realm. Only the first
// call posts.
func (l *Listener) SignalReady(ctx context.Context) error {
	var err error
	l.readyOnce.Do(func() {
		err = l.ch.Post(ctx, schemas.BridgeMessage{
			Version: schemas.ProtocolVersion,
			Kind:    schemas.KindReady,
			Sender:  schemas.SenderPage,
			Nonce:   l.opts.Nonce,
		})
	})
	return err
}

func (l *Listener) handle(env schemas.Envelope) {
	msg := env.Message
	if env.Origin != l.opts.Origin || msg.Sender != schemas.SenderContent ||
		msg.Kind != schemas.KindEval || msg.Nonce != l.opts.Nonce {
		return
	}

	resp := schemas.BridgeMessage{
		Version: schemas.ProtocolVersion,
		Kind:    schemas.KindResponse,
		Sender:  schemas.SenderPage,
		Nonce:   l.opts.Nonce,
		ID:      msg.ID,
	}
	value, err := l.evaluate(msg)
	switch {
	case err != nil:
		resp.Error = errorText(err)
	case !msg.Capture:
		resp.Result = successMarker
	default:
		resp.Result = value
	}

	if err := l.ch.Post(l.ctx, resp); err != nil {
		l.logger.Warn("Failed to post response.", zap.Uint64("id", msg.ID), zap.Error(err))
	}
}

func (l *Listener) evaluate(msg schemas.BridgeMessage) (value json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Evaluator panicked.",
				zap.Uint64("id", msg.ID),
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()

	ctx := l.ctx
	if l.opts.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.EvalTimeout)
		defer cancel()
	}
	return l.eval.Evaluate(ctx, msg.Code, msg.Capture)
}

// errorText guarantees a non-empty message so the requester can tell a
// failure from a success.
func errorText(err error) string {
	if s := err.Error(); s != "" {
		return s
	}
	return "Error"
}

// Close stops serving and waits for the in-flight evaluation to finish.
func (l *Listener) Close() {
	l.stopOnce.Do(func() {
		l.cancel()
		l.wg.Wait()
	})
}
