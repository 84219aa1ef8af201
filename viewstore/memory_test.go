package viewstore

import (
	"context"
	"sync"
	"testing"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
)

func TestMemoryStoreGetPutRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatal("expected miss on empty store")
	}

	if err := s.Put(ctx, "k1", map[string]any{"qty": 5}); err != nil {
		t.Fatal(err)
	}

	v, ok, _ := s.Get(ctx, "k1")
	if !ok || v.(map[string]any)["qty"] != 5 {
		t.Fatalf("Get() = (%v, %v)", v, ok)
	}

	prior, ok, _ := s.Remove(ctx, "k1")
	if !ok || prior.(map[string]any)["qty"] != 5 {
		t.Fatalf("Remove() = (%v, %v)", prior, ok)
	}
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatal("expected miss after remove")
	}
}

func TestMemoryStoreExecuteOnKeyAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ExecuteOnKey(ctx, "counter", func(current any) (any, error) {
				if current == nil {
					return 1, nil
				}
				return current.(int) + 1, nil
			})
		}()
	}
	wg.Wait()

	v, _, _ := s.Get(ctx, "counter")
	if v.(int) != n {
		t.Errorf("counter = %d, want %d", v.(int), n)
	}
}

func TestMemoryStoreExecuteOnKeyDeleteOnNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(ctx, "k1", "v1")

	_, err := s.ExecuteOnKey(ctx, "k1", func(current any) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Error("expected key deleted when mutator returns nil")
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(ctx, "a", 1)
	s.Put(ctx, "b", 2)
	s.Put(ctx, "c", 3)

	matches, err := s.Query(ctx, func(key string, state any) bool {
		return state.(int) >= 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("Query() matched %d, want 2", len(matches))
	}
}

func TestMemoryStoreRebuildFromLog(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemoryLog()

	e1, _ := event.New("stock.reserved", "inventory", "sku-1", "c1", map[string]any{"delta": float64(-2)})
	e2, _ := event.New("stock.received", "inventory", "sku-1", "c2", map[string]any{"delta": float64(5)})
	log.Append(ctx, eventlog.SeqKey{Sequence: 1, Key: "sku-1"}, e1)
	log.Append(ctx, eventlog.SeqKey{Sequence: 2, Key: "sku-1"}, e2)

	s := NewMemoryStore()
	s.Put(ctx, "stale-key", "should be cleared")

	project := func(current any, e *event.Event) (any, error) {
		qty := 0
		if current != nil {
			qty = current.(int)
		}
		delta := e.Payload["delta"].(float64)
		return qty + int(delta), nil
	}

	if err := s.Rebuild(ctx, log, project); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "stale-key"); ok {
		t.Error("expected Rebuild to clear prior state")
	}
	v, ok, _ := s.Get(ctx, "sku-1")
	if !ok || v.(int) != 3 {
		t.Errorf("Get(sku-1) = (%v, %v), want (3, true)", v, ok)
	}
}
