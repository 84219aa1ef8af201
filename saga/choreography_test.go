package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/r3e-network/eventcore/bus"
	"github.com/r3e-network/eventcore/event"
)

func mustSagaEvent(t *testing.T) *event.Event {
	t.Helper()
	e, err := event.New("order.placed", "orders", "order-1", "corr-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Saga = &event.SagaBlock{SagaID: "saga-1", SagaType: "checkout"}
	return e
}

func TestListenerRegistryDeliversOnMatchingTopic(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	r := NewListenerRegistry(b, DefaultRegistryConfig(), nil)

	var mu sync.Mutex
	called := false
	if err := r.On(ctx, "order.placed", func(ctx context.Context, e *event.Event) error {
		mu.Lock()
		called = true
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := b.Publish(ctx, "order.placed", mustSagaEvent(t)); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Error("listener was not invoked")
	}
}

func TestListenerRegistryRetriesBeforeDeadLetter(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	cfg := RegistryConfig{Budget: 50 * time.Millisecond, MaxAttempts: 3}
	r := NewListenerRegistry(b, cfg, nil)

	var mu sync.Mutex
	attempts := 0
	r.On(ctx, "order.placed", func(ctx context.Context, e *event.Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("transient failure")
	})

	b.Publish(ctx, "order.placed", mustSagaEvent(t))

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (MaxAttempts)", attempts)
	}
}

func TestListenerRegistryCloseUnsubscribesAll(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	r := NewListenerRegistry(b, DefaultRegistryConfig(), nil)

	called := 0
	r.On(ctx, "order.placed", func(ctx context.Context, e *event.Event) error {
		called++
		return nil
	})

	if err := r.Close(ctx); err != nil {
		t.Fatal(err)
	}

	b.Publish(ctx, "order.placed", mustSagaEvent(t))
	if called != 0 {
		t.Errorf("listener fired after Close, called = %d", called)
	}
}

func TestDecorateFollowUpPropagatesCorrelationAndSaga(t *testing.T) {
	follow, err := event.New("shipment.requested", "shipping", "order-1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	sagaBlock := &event.SagaBlock{SagaID: "saga-1", SagaType: "checkout", StepNumber: 2}
	decorated := DecorateFollowUp(follow, "corr-1", sagaBlock)

	if decorated.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", decorated.CorrelationID)
	}
	if decorated.Saga == nil || decorated.Saga.SagaID != "saga-1" {
		t.Errorf("Saga = %+v, want SagaID=saga-1", decorated.Saga)
	}
}
