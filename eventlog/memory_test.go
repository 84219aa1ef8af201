package eventlog

import (
	"context"
	"testing"

	"github.com/r3e-network/eventcore/event"
)

func mustEvent(t *testing.T, eventType, key string) *event.Event {
	t.Helper()
	e, err := event.New(eventType, "orders", key, "corr-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestMemoryLogAppendAndGet(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	e := mustEvent(t, "order.placed", "order-1")
	sk := SeqKey{Sequence: 1, Key: "order-1"}

	if err := l.Append(ctx, sk, e); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, ok, err := l.Get(ctx, sk)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v, %v)", got, ok, err)
	}
	if got.EventID != e.EventID {
		t.Errorf("EventID mismatch")
	}
}

func TestMemoryLogAppendIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	sk := SeqKey{Sequence: 1, Key: "order-1"}
	e1 := mustEvent(t, "order.placed", "order-1")
	e2 := mustEvent(t, "order.placed", "order-1")

	if err := l.Append(ctx, sk, e1); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, sk, e2); err != nil {
		t.Fatal(err)
	}

	got, _, _ := l.Get(ctx, sk)
	if got.EventID != e1.EventID {
		t.Error("expected second append to be a no-op, first write retained")
	}
	n, _ := l.CountByKey(ctx, "order-1")
	if n != 1 {
		t.Errorf("CountByKey() = %d, want 1", n)
	}
}

func TestMemoryLogOrderingPerKey(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()

	// Interleave writes across two keys; ordering for each key must still hold.
	l.Append(ctx, SeqKey{1, "a"}, mustEvent(t, "t1", "a"))
	l.Append(ctx, SeqKey{2, "b"}, mustEvent(t, "t1", "b"))
	l.Append(ctx, SeqKey{3, "a"}, mustEvent(t, "t2", "a"))
	l.Append(ctx, SeqKey{4, "a"}, mustEvent(t, "t3", "a"))

	events, err := l.EventsByKey(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("EventsByKey(a) len = %d, want 3", len(events))
	}
	if events[0].EventType != "t1" || events[1].EventType != "t2" || events[2].EventType != "t3" {
		t.Errorf("unexpected order: %+v", events)
	}
}

func TestMemoryLogEventsByKeyFromSequence(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	l.Append(ctx, SeqKey{1, "a"}, mustEvent(t, "t1", "a"))
	l.Append(ctx, SeqKey{2, "a"}, mustEvent(t, "t2", "a"))
	l.Append(ctx, SeqKey{3, "a"}, mustEvent(t, "t3", "a"))

	events, err := l.EventsByKeyFromSequence(ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].EventType != "t2" {
		t.Errorf("unexpected filtered events: %+v", events)
	}
}

func TestMemoryLogReplayAllOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	l.Append(ctx, SeqKey{3, "b"}, mustEvent(t, "t3", "b"))
	l.Append(ctx, SeqKey{1, "a"}, mustEvent(t, "t1", "a"))
	l.Append(ctx, SeqKey{2, "a"}, mustEvent(t, "t2", "a"))

	var seen []int64
	err := l.ReplayAll(ctx, func(sk SeqKey, e *event.Event) error {
		seen = append(seen, sk.Sequence)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 3}
	for i, s := range want {
		if seen[i] != s {
			t.Fatalf("ReplayAll order = %v, want %v", seen, want)
		}
	}
}

func TestMemoryLogLatestSequence(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()

	if _, ok, _ := l.LatestSequence(ctx); ok {
		t.Error("expected no latest sequence on empty log")
	}

	l.Append(ctx, SeqKey{5, "a"}, mustEvent(t, "t1", "a"))
	l.Append(ctx, SeqKey{2, "a"}, mustEvent(t, "t2", "a"))

	seq, ok, err := l.LatestSequence(ctx)
	if err != nil || !ok || seq != 5 {
		t.Errorf("LatestSequence() = (%d, %v, %v), want (5, true, nil)", seq, ok, err)
	}

	seqByKey, ok, err := l.LatestSequenceByKey(ctx, "a")
	if err != nil || !ok || seqByKey != 5 {
		t.Errorf("LatestSequenceByKey() = (%d, %v, %v), want (5, true, nil)", seqByKey, ok, err)
	}
}

func TestFormatParseSequenceKeyRoundTrip(t *testing.T) {
	sk := SeqKey{Sequence: 42, Key: "order-7"}
	formatted := FormatSequenceKey(sk)

	parsed, err := ParseSequenceKey(formatted)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != sk {
		t.Errorf("ParseSequenceKey(FormatSequenceKey(%v)) = %v, want %v", sk, parsed, sk)
	}
}

func TestFormatSequenceKeyOrdersLexicallyBySequence(t *testing.T) {
	a := FormatSequenceKey(SeqKey{Sequence: 2, Key: "k"})
	b := FormatSequenceKey(SeqKey{Sequence: 10, Key: "k"})
	if !(a < b) {
		t.Errorf("expected zero-padded sequence 2 to sort before 10, got %q >= %q", a, b)
	}
}
