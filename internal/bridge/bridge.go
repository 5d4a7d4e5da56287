// File: internal/bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"go.uber.org/zap"
)

var (
	// ErrRequestTimeout is returned when no response arrives within the
	// request timeout. The pending slot is released.
	ErrRequestTimeout = errors.New("bridge: request timed out")
	// ErrBridgeClosed is returned for requests pending at Close and for any
	// request made afterwards.
	ErrBridgeClosed = errors.New("bridge: closed")
)

// DefaultRequestTimeout bounds a request when Options leaves it unset.
const DefaultRequestTimeout = 10 * time.Second

// Result is the settled outcome of an eval request. Exactly one of Value and
// Err is meaningful: a code failure in the page realm is a Result, not a Go
// error.
type Result struct {
	Value json.RawMessage
	Err   string
}

// Failed reports whether the page realm reported an error.
func (r Result) Failed() bool { return r.Err != "" }

// Decode unmarshals the captured value into v.
func (r Result) Decode(v interface{}) error {
	if r.Failed() {
		return fmt.Errorf("bridge: result is an error: %s", r.Err)
	}
	if len(r.Value) == 0 {
		return fmt.Errorf("bridge: result has no value")
	}
	return codec.Unmarshal(r.Value, v)
}

// String renders the result for logs and the sandbox.
func (r Result) String() string {
	if r.Failed() {
		return "error: " + r.Err
	}
	if len(r.Value) == 0 {
		return "undefined"
	}
	return string(r.Value)
}

// Options configures a Bridge.
type Options struct {
	// Origin identifies the window this bridge belongs to. Messages posted
	// from any other origin are ignored.
	Origin string
	// Nonce is the shared secret the page side must echo. Empty generates one.
	Nonce          string
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
}

// NewNonce returns a fresh per-session secret.
func NewNonce() string { return uuid.NewString() }

// Bridge is the privileged-realm endpoint. It correlates eval requests with
// responses by id and runs the readiness initialization exactly once. One
// Bridge serves one realm-context lifetime.
type Bridge struct {
	ch      Channel
	origin  string
	nonce   string
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan schemas.BridgeMessage
	closed  bool

	readyOnce sync.Once
	readyCh   chan struct{}
	hooksMu   sync.Mutex
	hooks     []func()

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// New creates a bridge over ch and starts listening for page messages.
func New(ch Channel, opts Options, logger *zap.Logger) *Bridge {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Nonce == "" {
		opts.Nonce = NewNonce()
	}
	b := &Bridge{
		ch:      ch,
		origin:  opts.Origin,
		nonce:   opts.Nonce,
		timeout: opts.RequestTimeout,
		logger:  logger.Named("bridge"),
		metrics: opts.Metrics,
		pending: make(map[uint64]chan schemas.BridgeMessage),
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	events, unsubscribe := ch.Subscribe()
	b.unsubscribe = unsubscribe
	b.wg.Add(1)
	go b.listen(events)
	return b
}

// Nonce returns the secret the page side must present.
func (b *Bridge) Nonce() string { return b.nonce }

// Send asks the page realm to evaluate code and waits for the matching
// response. With capture the result carries the code's value; without it a
// success settles with an empty object. A page-side failure is returned as a
// Result with Err set and a nil error. Go errors mean the request never
// settled: ErrRequestTimeout, ErrBridgeClosed, a post failure, or ctx's error.
func (b *Bridge) Send(ctx context.Context, code string, capture bool) (Result, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, ErrBridgeClosed
	}
	id := b.nextID.Add(1)
	reply := make(chan schemas.BridgeMessage, 1)
	b.pending[id] = reply
	b.metrics.SetBridgePending(len(b.pending))
	b.mu.Unlock()

	start := time.Now()
	msg := schemas.BridgeMessage{
		Version: schemas.ProtocolVersion,
		Kind:    schemas.KindEval,
		Sender:  schemas.SenderContent,
		Nonce:   b.nonce,
		ID:      id,
		Code:    code,
		Capture: capture,
	}
	if err := b.ch.Post(ctx, msg); err != nil {
		b.forget(id)
		b.metrics.ObserveBridgeRequest("post_error", time.Since(start))
		return Result{}, fmt.Errorf("bridge: post eval %d: %w", id, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			b.metrics.ObserveBridgeRequest("closed", time.Since(start))
			return Result{}, ErrBridgeClosed
		}
		res := Result{Value: resp.Result, Err: resp.Error}
		outcome := "ok"
		if res.Failed() {
			outcome = "page_error"
		}
		b.metrics.ObserveBridgeRequest(outcome, time.Since(start))
		return res, nil
	case <-timer.C:
		b.forget(id)
		b.metrics.ObserveBridgeRequest("timeout", time.Since(start))
		return Result{}, fmt.Errorf("%w: id %d after %s", ErrRequestTimeout, id, b.timeout)
	case <-ctx.Done():
		b.forget(id)
		b.metrics.ObserveBridgeRequest("canceled", time.Since(start))
		return Result{}, ctx.Err()
	}
}

// Pending returns the number of unsettled requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) forget(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.metrics.SetBridgePending(len(b.pending))
	b.mu.Unlock()
}

// OnReady registers fn to run once when the page realm first signals
// readiness. Registering after readiness runs fn immediately.
func (b *Bridge) OnReady(fn func()) {
	b.hooksMu.Lock()
	select {
	case <-b.readyCh:
		b.hooksMu.Unlock()
		fn()
		return
	default:
	}
	b.hooks = append(b.hooks, fn)
	b.hooksMu.Unlock()
}

// Ready is closed once the page realm has signalled readiness.
func (b *Bridge) Ready() <-chan struct{} { return b.readyCh }

// WaitReady blocks until readiness or until ctx is done.
func (b *Bridge) WaitReady(ctx context.Context) error {
	select {
	case <-b.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: waiting for page readiness: %w", ctx.Err())
	case <-b.done:
		return ErrBridgeClosed
	}
}

func (b *Bridge) markReady() {
	fired := false
	b.readyOnce.Do(func() {
		fired = true
		b.hooksMu.Lock()
		hooks := b.hooks
		b.hooks = nil
		close(b.readyCh)
		b.hooksMu.Unlock()

		b.logger.Info("Page realm is ready.")
		for _, fn := range hooks {
			b.runHook(fn)
		}
	})
	if !fired {
		b.logger.Debug("Ignoring repeated readiness signal.")
	}
}

func (b *Bridge) runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Readiness hook panicked.", zap.Any("panic_value", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (b *Bridge) listen(events <-chan schemas.Envelope) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			b.handle(env)
		}
	}
}

func (b *Bridge) handle(env schemas.Envelope) {
	msg := env.Message
	// Our own eval posts come back on the shared channel; skip them quietly.
	if msg.Sender != schemas.SenderPage {
		return
	}
	if env.Origin != b.origin {
		b.drop("foreign_origin", msg)
		return
	}
	if msg.Nonce != b.nonce {
		b.drop("bad_nonce", msg)
		return
	}
	if msg.Version != schemas.ProtocolVersion {
		b.drop("version", msg)
		return
	}

	switch msg.Kind {
	case schemas.KindResponse:
		b.deliver(msg)
	case schemas.KindReady:
		b.markReady()
	default:
		// submit and status traffic belongs to the shell.
	}
}

func (b *Bridge) deliver(msg schemas.BridgeMessage) {
	b.mu.Lock()
	reply, ok := b.pending[msg.ID]
	if ok {
		delete(b.pending, msg.ID)
		b.metrics.SetBridgePending(len(b.pending))
	}
	b.mu.Unlock()

	if !ok {
		b.drop("unknown_id", msg)
		return
	}
	reply <- msg
}

func (b *Bridge) drop(reason string, msg schemas.BridgeMessage) {
	b.metrics.IncBridgeDropped(reason)
	b.logger.Debug("Dropping message.",
		zap.String("reason", reason),
		zap.String("kind", string(msg.Kind)),
		zap.Uint64("id", msg.ID))
}

// Close stops listening and fails every pending request with ErrBridgeClosed.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for id, reply := range b.pending {
			close(reply)
			delete(b.pending, id)
		}
		b.metrics.SetBridgePending(0)
		b.mu.Unlock()

		close(b.done)
		b.unsubscribe()
		b.wg.Wait()
	})
	return nil
}
