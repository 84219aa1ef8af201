// Package completion implements the Completion Tracker: a process-local map
// from sequence key to a one-shot waiter, resolved by the pipeline's
// complete stage. It is intentionally not replicated — a waiter only ever
// lives in the replica that accepted the originating command.
package completion

import (
	"context"
	"sync"
	"time"

	coreerrors "github.com/r3e-network/eventcore/pkg/errors"
)

// Status is the terminal (or in-flight) state of a tracked command.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record is the Completion Record from SPEC_FULL.md §3.
type Record struct {
	SequenceKey  string
	Status       Status
	ErrorMessage string
	SubmittedAt  time.Time
	CompletedAt  time.Time
}

// Tracker is the in-memory sequenceKey -> waiter map. An entry exists iff
// the pipeline has observed the key and not yet produced a terminal status,
// per SPEC_FULL.md §3's invariant; terminal records beyond that are kept
// only long enough for the waiter to pick them up, then evicted by TTL.
type Tracker struct {
	mu       sync.Mutex
	waiters  map[string]*waiter
	grace    time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

type waiter struct {
	ch       chan Record
	done     bool
	terminal *Record
	expires  time.Time
}

// New constructs a Tracker. grace bounds how long a terminal record is kept
// around after being written with no active waiter (e.g. the caller timed
// out first); it corresponds to COMPLETION_TTL_SECONDS.
func New(grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = time.Hour
	}
	t := &Tracker{
		waiters: make(map[string]*waiter),
		grace:   grace,
		stopCh:  make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Register creates a waiter for sequenceKey at command ingress. Calling
// Register twice for the same key replaces the prior waiter, mirroring
// "the tracker contains an entry iff the pipeline has observed it and not
// yet produced a terminal status."
func (t *Tracker) Register(sequenceKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiters[sequenceKey] = &waiter{ch: make(chan Record, 1)}
}

// Resolve is called by the pipeline's complete stage with the terminal
// record. If no waiter is registered (a different replica persisted the
// completion, or this replica's caller already gave up), the record is
// held for `grace` then discarded.
func (t *Tracker) Resolve(sequenceKey string, rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.waiters[sequenceKey]
	if !ok {
		w = &waiter{ch: make(chan Record, 1)}
		t.waiters[sequenceKey] = w
	}
	if w.done {
		return
	}
	w.done = true
	w.terminal = &rec
	w.expires = time.Now().Add(t.grace)
	w.ch <- rec
}

// Wait blocks until sequenceKey resolves, ctx is cancelled, or timeout
// elapses, whichever comes first. A prior call to Resolve (even before
// Wait is called) is honored immediately.
func (t *Tracker) Wait(ctx context.Context, sequenceKey string, timeout time.Duration) (Record, error) {
	t.mu.Lock()
	w, ok := t.waiters[sequenceKey]
	if !ok {
		w = &waiter{ch: make(chan Record, 1)}
		t.waiters[sequenceKey] = w
	}
	t.mu.Unlock()

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case rec := <-w.ch:
		// Put the value back so a second Wait (or the grace-period sweep)
		// still observes it.
		w.ch <- rec
		return rec, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return Record{}, coreerrors.New(coreerrors.KindTimeout, "completion wait cancelled").WithEvent(sequenceKey)
		}
		return Record{}, coreerrors.Timeout("completion wait").WithEvent(sequenceKey)
	}
}

// Cancel discards a waiter without resolving it, e.g. when the caller gives
// up. It does not stop the pipeline from eventually calling Resolve; that
// call will find no reader and be subject to grace-period eviction.
func (t *Tracker) Cancel(sequenceKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiters, sequenceKey)
}

// Size reports the number of tracked entries, for diagnostics and tests.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

func (t *Tracker) sweepLoop() {
	ticker := time.NewTicker(t.grace / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) sweep() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, w := range t.waiters {
		if w.done && w.terminal != nil && now.After(w.expires) {
			delete(t.waiters, k)
		}
	}
}

// Close stops the background eviction sweep.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
