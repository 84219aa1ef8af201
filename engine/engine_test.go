package engine

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/eventcore/bus"
	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
	"github.com/r3e-network/eventcore/outbox"
	"github.com/r3e-network/eventcore/pending"
	"github.com/r3e-network/eventcore/viewstore"
)

func sumProjector(current any, e *event.Event) (any, error) {
	total := 0.0
	if current != nil {
		total = current.(float64)
	}
	delta, _ := e.Payload["delta"].(float64)
	return total + delta, nil
}

func newTestEngine(t *testing.T, b bus.Bus) *Engine {
	t.Helper()
	eng, err := New(Deps{
		Name:          "orders",
		ReplicaID:     1,
		PendingLog:    pending.NewMemoryLog(),
		EventLog:      eventlog.NewMemoryLog(),
		ViewStore:     viewstore.NewMemoryStore(),
		OutboxStore:   outbox.NewMemoryStore(),
		Bus:           b,
		Project:       sumProjector,
		CompletionTTL: time.Minute,
	}, WithDrainInterval(5*time.Millisecond), WithWaitTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestEngineHandleCommandEndToEnd(t *testing.T) {
	b := bus.NewMemoryBus()
	delivered := make(chan *event.Event, 1)
	b.Subscribe(context.Background(), "order.placed", func(ctx context.Context, e *event.Event) error {
		delivered <- e
		return nil
	})

	eng := newTestEngine(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	cmd, err := event.New("order.placed", "", "order-1", "", map[string]any{"delta": 7.0})
	if err != nil {
		t.Fatal(err)
	}

	result, err := eng.HandleCommand(context.Background(), cmd, "corr-1", nil)
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if result.Status != "COMPLETED" {
		t.Fatalf("Status = %v, want COMPLETED", result.Status)
	}

	state, ok, err := eng.View(context.Background(), "order-1")
	if err != nil || !ok {
		t.Fatalf("View(order-1) = %v, %v, %v", state, ok, err)
	}
	if state.(float64) != 7.0 {
		t.Errorf("projected state = %v, want 7.0", state)
	}

	select {
	case e := <-delivered:
		if e.Key != "order-1" {
			t.Errorf("delivered event key = %q, want order-1", e.Key)
		}
	case <-time.After(time.Second):
		t.Error("event was not delivered to bus subscriber within timeout")
	}
}

func TestEngineQueryScansProjections(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	for _, key := range []string{"order-1", "order-2"} {
		cmd, err := event.New("order.placed", "", key, "", map[string]any{"delta": 3.0})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := eng.HandleCommand(context.Background(), cmd, "corr-1", nil); err != nil {
			t.Fatal(err)
		}
	}

	results, err := eng.Query(context.Background(), func(key string, state any) bool {
		return state.(float64) >= 3.0
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("Query() returned %d results, want 2", len(results))
	}
}

func TestEngineRebuildViewsReprojectsFromEventLog(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	cmd, err := event.New("order.placed", "", "order-1", "", map[string]any{"delta": 4.0})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.HandleCommand(context.Background(), cmd, "corr-1", nil); err != nil {
		t.Fatal(err)
	}
	eng.Stop()

	if err := eng.RebuildViews(context.Background(), viewstore.Projector(sumProjector)); err != nil {
		t.Fatal(err)
	}

	state, ok, err := eng.View(context.Background(), "order-1")
	if err != nil || !ok {
		t.Fatalf("View(order-1) after rebuild = %v, %v, %v", state, ok, err)
	}
	if state.(float64) != 4.0 {
		t.Errorf("rebuilt state = %v, want 4.0", state)
	}
}
