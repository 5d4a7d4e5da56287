// File: internal/bridge/mailbox.go
package bridge

import (
	"sync"

	"github.com/xkilldash9x/domrelay/api/schemas"
)

// Mailbox is one subscriber's inbox. Put never blocks and never drops: the
// queue grows while the reader is behind, and a pump goroutine hands
// envelopes to C in order. Posting happens on the goroutines of other
// subscribers (a listener answers from its own read loop), so blocking on a
// slow reader could deadlock the channel.
type Mailbox struct {
	out    chan schemas.Envelope
	notify chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	queue     []schemas.Envelope
	closed    bool
	closeOnce sync.Once
}

// NewMailbox starts a mailbox whose output channel buffers up to buffer
// envelopes ahead of the queue.
func NewMailbox(buffer int) *Mailbox {
	if buffer < 0 {
		buffer = 0
	}
	m := &Mailbox{
		out:    make(chan schemas.Envelope, buffer),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.pump()
	return m
}

// C delivers envelopes in the order they were put. It is closed after Close.
func (m *Mailbox) C() <-chan schemas.Envelope { return m.out }

// Put enqueues env. It reports false once the mailbox is closed.
func (m *Mailbox) Put(env schemas.Envelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of envelopes not yet handed to C.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close discards whatever is still queued and closes C.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue = nil
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-m.done:
				return
			}
		}
		env := m.queue[0]
		m.queue[0] = schemas.Envelope{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- env:
		case <-m.done:
			return
		}
	}
}
