package changefeed

import (
	"context"
	"sync/atomic"
)

// MemoryFeed delivers events synchronously inside one process.
type MemoryFeed struct {
	registry *registry
	closed   atomic.Bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{registry: newRegistry()}
}

func (f *MemoryFeed) Publish(ctx context.Context, event Event) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.registry.dispatch(event)
	return nil
}

func (f *MemoryFeed) Subscribe(entity Entity, handler Handler) Unsubscribe {
	return f.registry.subscribe(entity, handler)
}

func (f *MemoryFeed) Close() error {
	f.closed.Store(true)
	return nil
}
