// Package bus implements the Event Bus: a topic-per-event-type broadcast
// channel with per-publisher FIFO ordering and at-least-once delivery.
package bus

import (
	"context"

	"github.com/r3e-network/eventcore/event"
)

// Handler receives a published event. Handlers must be idempotent: the
// same event may be delivered more than once.
type Handler func(ctx context.Context, e *event.Event) error

// Subscription identifies a registered handler so it can later be removed.
type Subscription struct {
	Topic string
	ID    string
}

// Bus is the Event Bus contract.
type Bus interface {
	// Publish broadcasts e on topic to every current subscriber. Within one
	// publisher (one goroutine/process calling Publish), delivery preserves
	// submission order; no ordering guarantee holds across publishers.
	Publish(ctx context.Context, topic string, e *event.Event) error

	// Subscribe registers handler on topic and returns a Subscription
	// usable with Unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(ctx context.Context, sub Subscription) error
}
