package completion

import (
	"context"
	"testing"
	"time"

	coreerrors "github.com/r3e-network/eventcore/pkg/errors"
)

func TestRegisterResolveWait(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Register("seq-1")
	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.Resolve("seq-1", Record{SequenceKey: "seq-1", Status: StatusCompleted})
	}()

	rec, err := tr.Wait(context.Background(), "seq-1", time.Second)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", rec.Status)
	}
}

func TestResolveBeforeWaitIsHonored(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Register("seq-1")
	tr.Resolve("seq-1", Record{SequenceKey: "seq-1", Status: StatusFailed, ErrorMessage: "boom"})

	rec, err := tr.Wait(context.Background(), "seq-1", time.Second)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if rec.Status != StatusFailed || rec.ErrorMessage != "boom" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestWaitTimesOut(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Register("seq-1")
	_, err := tr.Wait(context.Background(), "seq-1", 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !coreerrors.Is(err, coreerrors.KindTimeout) {
		t.Errorf("expected KindTimeout, got %v", err)
	}
}

func TestWaitRespectsCallerCancellation(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Register("seq-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Wait(ctx, "seq-1", time.Second)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestResolveWithNoWaiterIsDiscardedAfterGrace(t *testing.T) {
	tr := New(20 * time.Millisecond)
	defer tr.Close()

	// No Register call: simulates a different replica persisting completion.
	tr.Resolve("seq-orphan", Record{SequenceKey: "seq-orphan", Status: StatusCompleted})

	if tr.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 immediately after Resolve", tr.Size())
	}

	time.Sleep(150 * time.Millisecond)

	if tr.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after grace period sweep", tr.Size())
	}
}

func TestCancelDropsWaiter(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Register("seq-1")
	tr.Cancel("seq-1")
	if tr.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after Cancel", tr.Size())
	}
}
