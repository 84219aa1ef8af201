// Package outbox implements the Transactional Outbox: a durable per-engine
// buffer bridging a local transactional write to the Event Bus with
// at-least-once delivery, claim-based deduplication across replicas, and a
// dead-letter sink after maxAttempts.
package outbox

import (
	"context"
	"time"

	"github.com/r3e-network/eventcore/event"
)

// Status is an Outbox Entry's lifecycle state.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusClaimed Status = "CLAIMED"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Entry is a durable outbox record.
type Entry struct {
	EntryID   string
	Topic     string
	Event     *event.Event
	Status    Status
	ClaimedBy string
	ClaimedAt time.Time
	Attempts  int
	CreatedAt time.Time
}

// DeadLetterEntry is written when an Entry exhausts maxAttempts.
type DeadLetterEntry struct {
	EntryID   string
	Topic     string
	Event     *event.Event
	LastError string
	FailedAt  time.Time
	Attempts  int
}

// Store is the durable outbox contract. Implementations must make ClaimBatch an
// atomic compare-and-set on Status so that of any number of replicas racing
// to claim the same NEW entry, exactly one succeeds.
type Store interface {
	// Enqueue writes a new NEW entry. Re-enqueuing the same EntryID is a
	// no-op (stages 4-5 of the pipeline must be idempotent).
	Enqueue(ctx context.Context, e Entry) error

	// ClaimBatch atomically transitions up to max NEW entries to CLAIMED,
	// recording claimedBy, and returns the claimed entries.
	ClaimBatch(ctx context.Context, claimedBy string, max int) ([]Entry, error)

	// MarkSent deletes the entry after successful bus delivery.
	MarkSent(ctx context.Context, entryID string) error

	// Release returns a CLAIMED entry to NEW after a failed delivery
	// attempt, incrementing its attempt counter.
	Release(ctx context.Context, entryID string, lastErr string) error

	// DeadLetter moves an entry that has exhausted maxAttempts out of the
	// outbox and into the dead-letter sink.
	DeadLetter(ctx context.Context, entryID string, lastErr string) error

	// Depth returns the count of entries with status NEW or CLAIMED.
	Depth(ctx context.Context) (int, error)

	// ListDeadLetters lists dead-letter entries for operator review.
	ListDeadLetters(ctx context.Context, limit, offset int) ([]DeadLetterEntry, error)

	// RetryDeadLetter moves a dead-letter entry back to the outbox with
	// status NEW and a reset attempt counter. Returns false if no such
	// dead-letter entry exists.
	RetryDeadLetter(ctx context.Context, entryID string) (bool, error)

	// DismissDeadLetter permanently removes a dead-letter entry.
	DismissDeadLetter(ctx context.Context, entryID string) error
}
