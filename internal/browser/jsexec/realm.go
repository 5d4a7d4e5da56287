// internal/browser/jsexec/realm.go
package jsexec

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/domrelay/internal/bridge"
	"go.uber.org/zap"
)

// helperPollInterval matches the Chrome page's jQuery presence poll.
const helperPollInterval = 100 * time.Millisecond

// Realm hosts an embedded page realm on a bridge channel: a Runtime serving
// eval requests through a bridge.Listener, plus the readiness signal once the
// DOM helper is available.
type Realm struct {
	Runtime  *Runtime
	listener *bridge.Listener
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// StartRealm starts serving rt on ch and begins polling for the helper.
func StartRealm(ch bridge.Channel, rt *Runtime, opts bridge.ListenerOptions, logger *zap.Logger) *Realm {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Realm{
		Runtime:  rt,
		listener: bridge.NewListener(ch, rt, opts, logger),
		logger:   logger.Named("realm"),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.listener.Start()
	go r.awaitHelper(ctx)
	return r
}

func (r *Realm) awaitHelper(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(helperPollInterval)
	defer ticker.Stop()
	for {
		present, err := r.helperPresent(ctx)
		if err != nil {
			r.logger.Debug("Helper check failed.", zap.Error(err))
		}
		if present {
			if err := r.listener.SignalReady(ctx); err != nil {
				r.logger.Warn("Failed to signal readiness.", zap.Error(err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Realm) helperPresent(ctx context.Context) (bool, error) {
	raw, err := r.Runtime.Evaluate(ctx, "typeof window.jQuery === 'function'", true)
	if err != nil {
		return false, fmt.Errorf("check helper: %w", err)
	}
	return string(raw) == "true", nil
}

// Close stops the realm and its listener.
func (r *Realm) Close() {
	r.cancel()
	<-r.done
	r.listener.Close()
}
