// Package pending implements the Pending Events Log: the change-data-
// capture-style buffer the ingress path appends to and the pipeline drains
// from (SPEC_FULL.md §4.4).
package pending

import (
	"context"
	"time"

	"github.com/r3e-network/eventcore/event"
)

// Entry is one buffered command awaiting pipeline processing.
type Entry struct {
	SequenceKey   string
	Event         *event.Event
	CorrelationID string
	EnqueuedAt    time.Time
}

// Log is the Pending Events Log contract: append at ingress, drain in FIFO
// order, remove once Stage 5 confirms the event reached the Event Log,
// View Store, and Outbox.
type Log interface {
	// Append buffers e for pipeline processing under sequenceKey.
	Append(ctx context.Context, entry Entry) error

	// Drain returns up to max buffered entries in enqueue order, for a
	// pipeline worker to claim and process.
	Drain(ctx context.Context, max int) ([]Entry, error)

	// Remove deletes the buffered entry once the pipeline has fully
	// committed it to the other three stores (Stage 5).
	Remove(ctx context.Context, sequenceKey string) error

	// Size reports the number of entries still buffered, for a backlog
	// gauge.
	Size(ctx context.Context) (int, error)
}
