package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/pkg/metrics"
	"github.com/r3e-network/eventcore/pkg/pgnotify"
)

// PostgresBus adapts pkg/pgnotify's LISTEN/NOTIFY bus to the Bus interface,
// mapping one Event Bus topic to one Postgres NOTIFY channel so fan-out
// works across every replica listening on that channel, not just within
// one process.
type PostgresBus struct {
	inner *pgnotify.Bus

	mu       sync.Mutex
	handlers map[string]map[string]Handler
	nextID   int64
}

// NewPostgresBus wraps an already-connected pgnotify.Bus.
func NewPostgresBus(inner *pgnotify.Bus) *PostgresBus {
	return &PostgresBus{inner: inner, handlers: make(map[string]map[string]Handler)}
}

func (b *PostgresBus) Publish(ctx context.Context, topic string, e *event.Event) error {
	if err := b.inner.Publish(ctx, topic, e); err != nil {
		metrics.RecordBusFanout(topic, "publish_failed")
		return fmt.Errorf("bus: publish: %w", err)
	}
	metrics.RecordBusFanout(topic, "published")
	return nil
}

func (b *PostgresBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := fmt.Sprintf("sub-%d", b.nextID)

	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string]Handler)
		if err := b.inner.Subscribe(topic, func(ctx context.Context, ev pgnotify.Event) error {
			var decoded event.Event
			if err := decodeEnvelope(ev, &decoded); err != nil {
				return err
			}
			return b.dispatch(ctx, topic, &decoded)
		}); err != nil {
			delete(b.handlers, topic)
			return Subscription{}, fmt.Errorf("bus: subscribe: %w", err)
		}
	}
	b.handlers[topic][id] = handler

	return Subscription{Topic: topic, ID: id}, nil
}

func (b *PostgresBus) dispatch(ctx context.Context, topic string, e *event.Event) error {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			metrics.RecordBusFanout(topic, "handler_failed")
			continue
		}
		metrics.RecordBusFanout(topic, "delivered")
	}
	return nil
}

func (b *PostgresBus) Unsubscribe(ctx context.Context, sub Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers[sub.Topic], sub.ID)
	if len(b.handlers[sub.Topic]) == 0 {
		delete(b.handlers, sub.Topic)
		return b.inner.Unsubscribe(sub.Topic)
	}
	return nil
}

func decodeEnvelope(ev pgnotify.Event, out *event.Event) error {
	decoded, err := event.Unmarshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("bus: decode event: %w", err)
	}
	*out = *decoded
	return nil
}

var _ Bus = (*PostgresBus)(nil)
