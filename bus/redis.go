package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/pkg/metrics"
)

// RedisBus implements Bus over Redis Pub/Sub, for deployments that run the
// Event Bus as a separate fan-out tier from the Postgres-backed stores
// (e.g. a Redis Cluster Bus shared by many engine replicas).
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	handlers map[string]Handler
	nextID   int64
}

// NewRedisBus constructs a RedisBus over an existing client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[string]*redisSubscription)}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, e *event.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		metrics.RecordBusFanout(topic, "publish_failed")
		return fmt.Errorf("bus: publish: %w", err)
	}
	metrics.RecordBusFanout(topic, "published")
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[topic]
	if !ok {
		pubsub := b.client.Subscribe(ctx, topic)
		subCtx, cancel := context.WithCancel(context.Background())
		sub = &redisSubscription{pubsub: pubsub, cancel: cancel, handlers: make(map[string]Handler)}
		b.subs[topic] = sub
		go b.consume(subCtx, topic, sub)
	}

	sub.nextID++
	id := fmt.Sprintf("sub-%d", sub.nextID)
	sub.handlers[id] = handler

	return Subscription{Topic: topic, ID: id}, nil
}

func (b *RedisBus) consume(ctx context.Context, topic string, sub *redisSubscription) {
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			e, err := event.Unmarshal([]byte(msg.Payload))
			if err != nil {
				metrics.RecordBusFanout(topic, "decode_failed")
				continue
			}
			b.mu.Lock()
			handlers := make([]Handler, 0, len(sub.handlers))
			for _, h := range sub.handlers {
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
		}
	}
}

func (b *RedisBus) Unsubscribe(ctx context.Context, subscription Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscription.Topic]
	if !ok {
		return nil
	}
	delete(sub.handlers, subscription.ID)
	if len(sub.handlers) == 0 {
		sub.cancel()
		err := sub.pubsub.Close()
		delete(b.subs, subscription.Topic)
		return err
	}
	return nil
}

var _ Bus = (*RedisBus)(nil)
