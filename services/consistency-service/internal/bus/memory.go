package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("bus is closed")

// MemoryBus is an in-process Bus for tests and local runs. Delivery order
// matches publish order, mirroring a single Kafka partition per aggregate.
type MemoryBus struct {
	mu        sync.Mutex
	subs      []chan Message
	published []Message
	closed    bool
	done      chan struct{}
	sending   sync.WaitGroup
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{done: make(chan struct{})}
}

// Publish delivers to every subscriber outside the bus lock, so a subscriber
// with a full buffer stalls only this publisher; Close unblocks it.
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.published = append(b.published, msg)
	subs := make([]chan Message, len(b.subs))
	copy(subs, b.subs)
	b.sending.Add(1)
	b.mu.Unlock()
	defer b.sending.Done()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-b.done:
			return ErrBusClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns a channel receiving every message published after the
// call. The channel is closed when the bus closes.
func (b *MemoryBus) Subscribe(buffer int) <-chan Message {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Published returns a copy of every message published so far.
func (b *MemoryBus) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	// Wake stalled publishers, then close subscriber channels once no send
	// is in flight.
	close(b.done)
	b.sending.Wait()
	for _, ch := range subs {
		close(ch)
	}
	return nil
}
