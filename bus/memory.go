package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/pkg/metrics"
)

// MemoryBus is an in-process Bus backend. Each Publish call invokes the
// topic's subscribers sequentially (in no particular order among them)
// before it returns — satisfying per-publisher FIFO without imposing any
// cross-publisher ordering.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Handler
	nextID      int64
}

// NewMemoryBus constructs an empty in-memory Event Bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[string]map[string]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, e *event.Event) error {
	b.mu.RLock()
	handlers := make(map[string]Handler, len(b.subscribers[topic]))
	for id, h := range b.subscribers[topic] {
		handlers[id] = h
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			metrics.RecordBusFanout(topic, "failed")
			continue
		}
		metrics.RecordBusFanout(topic, "delivered")
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	id := fmt.Sprintf("sub-%d", atomic.AddInt64(&b.nextID, 1))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]Handler)
	}
	b.subscribers[topic][id] = handler

	return Subscription{Topic: topic, ID: id}, nil
}

func (b *MemoryBus) Unsubscribe(ctx context.Context, sub Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[sub.Topic], sub.ID)
	return nil
}

var _ Bus = (*MemoryBus)(nil)
