// Package eventlog implements the append-only Event Log: events ordered by
// (sequence, key), the engine's source of truth for replay and projection.
package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/r3e-network/eventcore/event"
)

// SeqKey is the Partitioned Sequence Key from SPEC_FULL.md §3: ordering by
// Sequence, partitioning by Key.
type SeqKey struct {
	Sequence int64
	Key      string
}

// Visitor is called once per event during a replay, in sequence order. A
// non-nil return aborts the replay and is propagated to the caller.
type Visitor func(seqKey SeqKey, e *event.Event) error

// Log is the append-only Event Log contract. Implementations must
// guarantee append is durable before returning success, and that iteration
// for a single key stays in sequence order even when interleaved with
// writes to other keys.
type Log interface {
	// Append writes e under seqKey. Appending the same seqKey twice with an
	// identical event is a no-op (idempotent replay of the pipeline's
	// persist stage after a crash between persist and pending-removal).
	Append(ctx context.Context, seqKey SeqKey, e *event.Event) error

	// Get returns the event at seqKey, or ok=false if absent.
	Get(ctx context.Context, seqKey SeqKey) (*event.Event, bool, error)

	// EventsByKey returns every event for k in ascending sequence order.
	EventsByKey(ctx context.Context, k string) ([]*event.Event, error)

	// EventsByKeyFromSequence returns events for k with sequence >= fromSeq,
	// in ascending sequence order.
	EventsByKeyFromSequence(ctx context.Context, k string, fromSeq int64) ([]*event.Event, error)

	// ReplayAll visits every event in ascending sequence order.
	ReplayAll(ctx context.Context, visit Visitor) error

	// ReplayByKey visits every event for k in ascending sequence order.
	ReplayByKey(ctx context.Context, k string, visit Visitor) error

	// Count returns the total number of events in the log.
	Count(ctx context.Context) (int64, error)

	// CountByKey returns the number of events stored for k.
	CountByKey(ctx context.Context, k string) (int64, error)

	// LatestSequence returns the highest sequence number written, or
	// ok=false if the log is empty.
	LatestSequence(ctx context.Context) (int64, bool, error)

	// LatestSequenceByKey returns the highest sequence number written for
	// k, or ok=false if k has no events.
	LatestSequenceByKey(ctx context.Context, k string) (int64, bool, error)
}

// FormatSequenceKey renders a SeqKey as the single opaque string used as the
// completion tracker's and pending log's lookup key, zero-padded so that
// lexical and numeric ordering agree.
func FormatSequenceKey(sk SeqKey) string {
	return fmt.Sprintf("%020d:%s", sk.Sequence, sk.Key)
}

// ParseSequenceKey inverts FormatSequenceKey.
func ParseSequenceKey(s string) (SeqKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return SeqKey{}, fmt.Errorf("eventlog: malformed sequence key %q", s)
	}
	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return SeqKey{}, fmt.Errorf("eventlog: malformed sequence in key %q: %w", s, err)
	}
	return SeqKey{Sequence: seq, Key: parts[1]}, nil
}
