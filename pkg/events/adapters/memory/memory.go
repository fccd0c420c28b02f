// Package memory implements events.Bus with an in-process map of
// topic to handlers. Publish invokes every subscribed handler
// synchronously, in subscription order; a handler that wants
// isolation from a slow peer should dispatch onto its own goroutine.
package memory

import (
	"context"
	"sync"

	"github.com/chris-alexander-pop/zmqbridge/pkg/events"
)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]events.Handler
	closed   bool
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]events.Handler)}
}

func (b *Bus) Publish(ctx context.Context, topicName string, event events.Event) error {
	b.mu.RLock()
	handlers := append([]events.Handler(nil), b.handlers[topicName]...)
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topicName string, handler events.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topicName] = append(b.handlers[topicName], handler)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
