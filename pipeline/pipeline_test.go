package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/r3e-network/eventcore/completion"
	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
	coreerrors "github.com/r3e-network/eventcore/pkg/errors"
	"github.com/r3e-network/eventcore/outbox"
	"github.com/r3e-network/eventcore/pending"
	"github.com/r3e-network/eventcore/viewstore"
)

func enqueueCommand(t *testing.T, p pending.Log, el eventlog.Log, seq int64, key, eventType string, payload map[string]any) string {
	t.Helper()
	ctx := context.Background()
	e, err := event.New(eventType, "orders", key, "corr-1", payload)
	if err != nil {
		t.Fatal(err)
	}
	seqKey := eventlog.SeqKey{Sequence: seq, Key: key}
	sequenceKey := eventlog.FormatSequenceKey(seqKey)
	if err := p.Append(ctx, pending.Entry{
		SequenceKey: sequenceKey, Event: e, CorrelationID: "corr-1", EnqueuedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	return sequenceKey
}

func sumProjector(current any, e *event.Event) (any, error) {
	total := 0.0
	if current != nil {
		total = current.(float64)
	}
	delta, _ := e.Payload["delta"].(float64)
	return total + delta, nil
}

func TestPipelineProcessesEventEndToEnd(t *testing.T) {
	ctx := context.Background()
	pendingLog := pending.NewMemoryLog()
	eventLog := eventlog.NewMemoryLog()
	views := viewstore.NewMemoryStore()
	outboxStore := outbox.NewMemoryStore()
	tracker := completion.New(time.Minute)
	defer tracker.Close()

	cfg := DefaultConfig()
	cfg.DrainInterval = 5 * time.Millisecond
	cfg.Source = "orders"
	pl := New(cfg, pendingLog, eventLog, views, outboxStore, tracker, nil, sumProjector, nil)

	sequenceKey := enqueueCommand(t, pendingLog, eventLog, 1, "order-1", "order.placed", map[string]any{"delta": 5.0})
	tracker.Register(sequenceKey)

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	go pl.Run(runCtx)
	defer pl.Stop()

	rec, err := tracker.Wait(ctx, sequenceKey, 400*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if rec.Status != completion.StatusCompleted {
		t.Fatalf("completion status = %v, want COMPLETED", rec.Status)
	}

	state, ok, err := views.Get(ctx, "order-1")
	if err != nil || !ok {
		t.Fatalf("Get(order-1) = %v, %v, %v", state, ok, err)
	}
	if state.(float64) != 5.0 {
		t.Errorf("projected state = %v, want 5.0", state)
	}

	n, _ := eventLog.Count(ctx)
	if n != 1 {
		t.Errorf("eventLog.Count() = %d, want 1", n)
	}

	depth, _ := outboxStore.Depth(ctx)
	if depth != 1 {
		t.Errorf("outbox depth = %d, want 1", depth)
	}

	pendingSize, _ := pendingLog.Size(ctx)
	if pendingSize != 0 {
		t.Errorf("pending size = %d, want 0 after processing", pendingSize)
	}
}

func TestPipelineProjectsEventsForSameKeyInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	pendingLog := pending.NewMemoryLog()
	eventLog := eventlog.NewMemoryLog()
	views := viewstore.NewMemoryStore()
	outboxStore := outbox.NewMemoryStore()
	tracker := completion.New(time.Minute)
	defer tracker.Close()

	cfg := DefaultConfig()
	cfg.DrainInterval = 5 * time.Millisecond
	cfg.Workers = 4
	pl := New(cfg, pendingLog, eventLog, views, outboxStore, tracker, nil, sumProjector, nil)

	var keys []string
	for i := int64(1); i <= 10; i++ {
		sk := enqueueCommand(t, pendingLog, eventLog, i, "order-1", "order.adjusted", map[string]any{"delta": 1.0})
		tracker.Register(sk)
		keys = append(keys, sk)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	go pl.Run(runCtx)
	defer pl.Stop()

	var wg sync.WaitGroup
	wg.Add(len(keys))
	for _, k := range keys {
		k := k
		go func() {
			defer wg.Done()
			tracker.Wait(ctx, k, 800*time.Millisecond)
		}()
	}
	wg.Wait()

	state, ok, err := views.Get(ctx, "order-1")
	if err != nil || !ok {
		t.Fatalf("Get(order-1) = %v, %v, %v", state, ok, err)
	}
	if state.(float64) != 10.0 {
		t.Errorf("projected state = %v, want 10.0 (sum of 10 deltas of 1.0)", state)
	}
}

type failingEventLog struct {
	eventlog.Log
}

func (failingEventLog) Append(ctx context.Context, seqKey eventlog.SeqKey, e *event.Event) error {
	return errors.New("store unavailable")
}

func TestPipelineCompletesFailedOnPersistExhaustion(t *testing.T) {
	ctx := context.Background()
	pendingLog := pending.NewMemoryLog()
	eventLog := failingEventLog{Log: eventlog.NewMemoryLog()}
	views := viewstore.NewMemoryStore()
	outboxStore := outbox.NewMemoryStore()
	tracker := completion.New(time.Minute)
	defer tracker.Close()

	cfg := DefaultConfig()
	cfg.DrainInterval = 5 * time.Millisecond
	cfg.MaxStageRetries = 2
	cfg.StageRetryDelay = time.Millisecond
	pl := New(cfg, pendingLog, eventLog, views, outboxStore, tracker, nil, sumProjector, nil)

	sequenceKey := enqueueCommand(t, pendingLog, nil, 1, "order-1", "order.placed", map[string]any{"delta": 5.0})
	tracker.Register(sequenceKey)

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	go pl.Run(runCtx)
	defer pl.Stop()

	rec, err := tracker.Wait(ctx, sequenceKey, 400*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if rec.Status != completion.StatusFailed {
		t.Fatalf("completion status = %v, want FAILED", rec.Status)
	}
}

type spyDLQ struct {
	mu      sync.Mutex
	records int
}

func (s *spyDLQ) Record(ctx context.Context, e *event.Event, stage string, lastErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	return nil
}

func (s *spyDLQ) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

func stockProjector(current any, e *event.Event) (any, error) {
	return nil, coreerrors.Conflict("insufficient stock")
}

// TestPipelineConflictFailsFastWithoutDLQ grounds SPEC_FULL.md §7/§8:
// a ConflictError from the projector completes FAILED on the first
// attempt — no stage-3 retry delay, no dead-letter entry — because it is
// an expected business outcome, not a store or delivery failure.
func TestPipelineConflictFailsFastWithoutDLQ(t *testing.T) {
	ctx := context.Background()
	pendingLog := pending.NewMemoryLog()
	eventLog := eventlog.NewMemoryLog()
	views := viewstore.NewMemoryStore()
	outboxStore := outbox.NewMemoryStore()
	tracker := completion.New(time.Minute)
	defer tracker.Close()
	dlq := &spyDLQ{}

	cfg := DefaultConfig()
	cfg.DrainInterval = 5 * time.Millisecond
	cfg.MaxStageRetries = 5
	cfg.StageRetryDelay = 200 * time.Millisecond
	pl := New(cfg, pendingLog, eventLog, views, outboxStore, tracker, dlq, stockProjector, nil)

	sequenceKey := enqueueCommand(t, pendingLog, eventLog, 1, "p1", "StockReserved", map[string]any{"quantity": 10.0})
	tracker.Register(sequenceKey)

	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	go pl.Run(runCtx)
	defer pl.Stop()

	start := time.Now()
	rec, err := tracker.Wait(ctx, sequenceKey, 900*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if rec.Status != completion.StatusFailed {
		t.Fatalf("completion status = %v, want FAILED", rec.Status)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("conflict took %v to fail, want fast-fail well under one retry delay", elapsed)
	}
	if dlq.count() != 0 {
		t.Errorf("dead-letter records = %d, want 0 for a conflict", dlq.count())
	}

	// The triggering event is still persisted even though projection failed.
	n, err := eventLog.CountByKey(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountByKey(p1) = %d, want 1 (event persisted despite conflict)", n)
	}
}
