// File: internal/bridge/session.go
package bridge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Session keeps one Bridge per page document. A navigation replaces the
// document and with it the page half of the bridge, so Renew swaps in a fresh
// Bridge whose readiness tracks the new document. Requests still pending on
// the old one fail with ErrBridgeClosed.
type Session struct {
	ch     Channel
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	current    *Bridge
	generation int
	hooks      []func()
	closed     bool
}

// NewSession opens the first bridge on ch. Options.Nonce is generated once
// and shared by every bridge of the session.
func NewSession(ch Channel, opts Options, logger *zap.Logger) *Session {
	if opts.Nonce == "" {
		opts.Nonce = NewNonce()
	}
	s := &Session{ch: ch, opts: opts, logger: logger.Named("bridge_session")}
	s.current = New(ch, opts, logger)
	return s
}

// Nonce returns the secret shared with the page shim.
func (s *Session) Nonce() string { return s.opts.Nonce }

// Current returns the bridge for the current document.
func (s *Session) Current() *Bridge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Send forwards to the current bridge.
func (s *Session) Send(ctx context.Context, code string, capture bool) (Result, error) {
	return s.Current().Send(ctx, code, capture)
}

// Ready is closed once the current document has signalled readiness.
func (s *Session) Ready() <-chan struct{} { return s.Current().Ready() }

// WaitReady blocks until a document is ready. A renewal while waiting moves
// the wait to the new document.
func (s *Session) WaitReady(ctx context.Context) error {
	for {
		b := s.Current()
		err := b.WaitReady(ctx)
		if !errors.Is(err, ErrBridgeClosed) {
			return err
		}
		s.mu.RLock()
		renewed := !s.closed && s.current != b
		s.mu.RUnlock()
		if !renewed {
			return err
		}
	}
}

// OnReady registers fn to run each time a document becomes ready, including
// the current one if it already is.
func (s *Session) OnReady(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	b := s.current
	s.mu.Unlock()
	b.OnReady(fn)
}

// Renew replaces the current bridge. It does not block on the old bridge's
// shutdown, so it is safe to call from a transport event callback.
func (s *Session) Renew() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.current
	next := New(s.ch, s.opts, s.logger)
	for _, fn := range s.hooks {
		next.OnReady(fn)
	}
	s.current = next
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.logger.Debug("New page document, bridge renewed.", zap.Int("generation", gen))
	go func() { _ = old.Close() }()
}

// Close closes the current bridge. Renew is a no-op afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	b := s.current
	s.mu.Unlock()
	return b.Close()
}
