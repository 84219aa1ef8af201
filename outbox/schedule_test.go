package outbox

import (
	"context"
	"testing"
	"time"
)

func TestRetentionSchedulerRunsSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Enqueue(ctx, Entry{EntryID: "e1", Topic: "order.placed", Event: mustOutboxEvent(t)})
	claimed, err := s.ClaimBatch(ctx, "replica-a", 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch() = %+v, %v", claimed, err)
	}
	if err := s.DeadLetter(ctx, claimed[0].EntryID, "boom"); err != nil {
		t.Fatal(err)
	}

	sched := NewRetentionScheduler(s, nil)
	if err := sched.Schedule(ctx, "@every 10ms"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	sched.Start()
	defer sched.Stop()

	time.Sleep(50 * time.Millisecond)

	entries, err := s.ListDeadLetters(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListDeadLetters() = %d entries, want 1", len(entries))
	}
}

func TestRetentionSchedulerRejectsBadExpr(t *testing.T) {
	sched := NewRetentionScheduler(NewMemoryStore(), nil)
	if err := sched.Schedule(context.Background(), "not-a-cron-expr"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
