// Package bus is the boundary between the gateway and the agent layer.
// Inbound events are published here; the agent subscribes.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/haasonsaas/tgate/pkg/models"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

// Publisher accepts normalized inbound events.
type Publisher interface {
	Publish(ctx context.Context, event models.InboundEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event models.InboundEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event models.InboundEvent) error {
	return f(ctx, event)
}

type subscriber struct {
	ch   chan models.InboundEvent
	done chan struct{}
}

// Memory is an in-process fan-out bus. Publish blocks until every
// subscriber has accepted the event or ctx is done.
type Memory struct {
	buffer int

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewMemory creates a bus whose subscriber channels hold buffer events.
func NewMemory(buffer int) *Memory {
	if buffer < 0 {
		buffer = 0
	}
	return &Memory{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener. The returned cancel func unregisters it;
// the channel is never closed by the bus.
func (b *Memory) Subscribe() (<-chan models.InboundEvent, func()) {
	sub := &subscriber{
		ch:   make(chan models.InboundEvent, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

func (b *Memory) Publish(ctx context.Context, event models.InboundEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribers returns the number of registered listeners.
func (b *Memory) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close rejects further publishes.
func (b *Memory) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
