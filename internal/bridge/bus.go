// File: internal/bridge/bus.go
package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when posting to a bus that has been shut down.
var ErrBusClosed = errors.New("bridge: bus closed")

// Channel is a postable message channel shared by two realms. Every
// subscriber observes every post, including its own.
type Channel interface {
	Post(ctx context.Context, msg schemas.BridgeMessage) error
	Subscribe() (<-chan schemas.Envelope, func())
}

// Bus is an in-process broadcast medium, the Go counterpart of a window's
// message event stream. Endpoints bound to different origins model distinct
// windows (for example a page and an embedded frame) sharing one bus.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[int]*Mailbox
	nextSubID   int
	closed      bool
}

// NewBus creates a bus. Each subscription queues without bound; bufferSize
// only sizes the channel in front of the queue.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		logger:      logger.Named("bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[int]*Mailbox),
	}
}

// Endpoint returns a Channel that posts on behalf of origin.
func (b *Bus) Endpoint(origin string) Channel {
	return &busEndpoint{bus: b, origin: origin}
}

func (b *Bus) publish(ctx context.Context, env schemas.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for id, box := range b.subscribers {
		if !box.Put(env) {
			b.logger.Debug("Subscriber already closed.", zap.Int("subscriber", id))
		}
	}
	return nil
}

func (b *Bus) subscribe() (<-chan schemas.Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	box := NewMailbox(b.bufferSize)
	if b.closed {
		box.Close()
		return box.C(), func() {}
	}
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = box

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				sub.Close()
			}
		})
	}
	return box.C(), unsubscribe
}

// Close closes every subscription. Later posts fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, box := range b.subscribers {
		box.Close()
		delete(b.subscribers, id)
	}
}

type busEndpoint struct {
	bus    *Bus
	origin string
}

func (e *busEndpoint) Post(ctx context.Context, msg schemas.BridgeMessage) error {
	return e.bus.publish(ctx, schemas.Envelope{Origin: e.origin, Message: msg})
}

func (e *busEndpoint) Subscribe() (<-chan schemas.Envelope, func()) {
	return e.bus.subscribe()
}
