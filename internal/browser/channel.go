// internal/browser/channel.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/bridge"
)

const (
	// BindingName is the runtime binding the page shim reports through. It
	// exists only in WorldName contexts.
	BindingName = "__domrelay_emit"
	// WorldName names the isolated world the shim runs in.
	WorldName = "domrelay"
)

// ErrChannelClosed is returned by Post after Close.
var ErrChannelClosed = errors.New("browser: channel closed")

// worldRunner evaluates a script in the given execution context.
type worldRunner func(ctx context.Context, contextID runtime.ExecutionContextID, script string) error

// CDPChannel is the bridge.Channel of a Chrome tab. Posts travel on an
// in-process bus between the agent, the main-world evaluator and the shell;
// nothing that carries the nonce is ever handed to page script. The shim in
// the isolated world reaches the agent only through the binding, and the
// agent reaches it only through Runtime.evaluate in that world.
type CDPChannel struct {
	bus         *bridge.Bus
	origin      string
	local       bridge.Channel
	runIsolated worldRunner
	logger      *zap.Logger

	mu      sync.RWMutex
	worlds  map[runtime.ExecutionContextID]string
	closed  bool
	navHook func(url string)
}

var _ bridge.Channel = (*CDPChannel)(nil)

// newCDPChannel creates a channel for the main frame origin. run evaluates
// scripts in the shim's world.
func newCDPChannel(origin string, run worldRunner, logger *zap.Logger) *CDPChannel {
	log := logger.Named("cdp_channel")
	bus := bridge.NewBus(log, 64)
	return &CDPChannel{
		bus:         bus,
		origin:      origin,
		local:       bus.Endpoint(origin),
		runIsolated: run,
		logger:      log,
		worlds:      make(map[runtime.ExecutionContextID]string),
	}
}

// Post publishes msg to the channel's subscribers. Status messages are also
// rendered by the shim of the main frame.
func (c *CDPChannel) Post(ctx context.Context, msg schemas.BridgeMessage) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrChannelClosed
	}
	if msg.Kind == schemas.KindStatus && msg.Sender == schemas.SenderContent {
		if err := c.pushStatus(ctx, msg); err != nil {
			return err
		}
	}
	return c.local.Post(ctx, msg)
}

// Subscribe returns every message posted on the channel, including the
// agent's own posts.
func (c *CDPChannel) Subscribe() (<-chan schemas.Envelope, func()) {
	return c.local.Subscribe()
}

// Close ends every subscription.
func (c *CDPChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.bus.Close()
}

// OnMainFrameNavigated registers fn to run when the main frame commits a new
// document. fn runs on the event goroutine and must not block.
func (c *CDPChannel) OnMainFrameNavigated(fn func(url string)) {
	c.mu.Lock()
	c.navHook = fn
	c.mu.Unlock()
}

// announceReady tells the agent the current document has its helper.
func (c *CDPChannel) announceReady(ctx context.Context, nonce string) error {
	return c.Post(ctx, schemas.BridgeMessage{
		Version: schemas.ProtocolVersion,
		Kind:    schemas.KindReady,
		Sender:  schemas.SenderPage,
		Nonce:   nonce,
	})
}

func (c *CDPChannel) pushStatus(ctx context.Context, msg schemas.BridgeMessage) error {
	id, ok := c.shimContext(c.origin)
	if !ok {
		c.logger.Debug("No shim world yet, status not rendered.")
		return nil
	}
	data, err := bridge.Encode(msg)
	if err != nil {
		return err
	}
	script := "window.__domrelayStatus && window.__domrelayStatus(" + string(data) + ");"
	if err := c.runIsolated(ctx, id, script); err != nil {
		return fmt.Errorf("push status to shim: %w", err)
	}
	return nil
}

func (c *CDPChannel) shimContext(frameID string) (runtime.ExecutionContextID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, frame := range c.worlds {
		if frame == frameID {
			return id, true
		}
	}
	return 0, false
}

type contextAuxData struct {
	IsDefault bool   `json:"isDefault"`
	Type      string `json:"type"`
	FrameID   string `json:"frameId"`
}

// handleEvent is registered with chromedp.ListenTarget. It runs on the
// target's event goroutine and must not block.
func (c *CDPChannel) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventExecutionContextCreated:
		if e.Context == nil || e.Context.Name != WorldName {
			return
		}
		var aux contextAuxData
		if err := json.Unmarshal([]byte(e.Context.AuxData), &aux); err != nil || aux.IsDefault || aux.FrameID == "" {
			return
		}
		c.mu.Lock()
		c.worlds[e.Context.ID] = aux.FrameID
		c.mu.Unlock()

	case *runtime.EventExecutionContextDestroyed:
		c.mu.Lock()
		delete(c.worlds, e.ExecutionContextID)
		c.mu.Unlock()

	case *runtime.EventExecutionContextsCleared:
		c.mu.Lock()
		c.worlds = make(map[runtime.ExecutionContextID]string)
		c.mu.Unlock()

	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		c.logger.Debug("Main frame navigated.", zap.String("url", e.Frame.URL))
		c.mu.RLock()
		hook := c.navHook
		c.mu.RUnlock()
		if hook != nil {
			hook(e.Frame.URL)
		}

	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		c.receive(e.ExecutionContextID, e.Payload)
	}
}

// receive accepts submits from the shim world. Anything else reaching the
// binding, from another world or of another kind, is rejected.
func (c *CDPChannel) receive(ctxID runtime.ExecutionContextID, payload string) {
	c.mu.RLock()
	frame, ok := c.worlds[ctxID]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	if !ok {
		c.logger.Warn("Rejected binding call from outside the shim world.",
			zap.Int64("context_id", int64(ctxID)))
		return
	}

	msg, err := bridge.Decode([]byte(payload))
	if err != nil {
		c.logger.Debug("Dropping undecodable shim message.", zap.Error(err))
		return
	}
	if msg.Kind != schemas.KindSubmit {
		c.logger.Warn("Rejected shim message of unexpected kind.", zap.String("kind", string(msg.Kind)))
		return
	}
	if err := c.bus.Endpoint(frame).Post(context.Background(), msg); err != nil {
		c.logger.Debug("Dropping shim message after close.", zap.Error(err))
	}
}
