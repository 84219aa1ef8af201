package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/r3e-network/eventcore/event"
)

// MemoryLog is an in-memory Log backend, grounded on the map-plus-mutex
// shape of the teacher repo's in-memory store (one RWMutex guarding a map,
// per-key slices kept sorted by sequence on insert).
type MemoryLog struct {
	mu       sync.RWMutex
	byKey    map[string][]entry // ascending by sequence
	bySeqKey map[SeqKey]*event.Event
}

type entry struct {
	seq int64
	evt *event.Event
}

// NewMemoryLog constructs an empty in-memory Event Log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byKey:    make(map[string][]entry),
		bySeqKey: make(map[SeqKey]*event.Event),
	}
}

func (l *MemoryLog) Append(ctx context.Context, seqKey SeqKey, e *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.bySeqKey[seqKey]; exists {
		return nil // idempotent replay of an already-persisted seqKey
	}

	l.bySeqKey[seqKey] = e
	entries := l.byKey[seqKey.Key]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].seq >= seqKey.Sequence })
	entries = append(entries, entry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = entry{seq: seqKey.Sequence, evt: e}
	l.byKey[seqKey.Key] = entries
	return nil
}

func (l *MemoryLog) Get(ctx context.Context, seqKey SeqKey) (*event.Event, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.bySeqKey[seqKey]
	return e, ok, nil
}

func (l *MemoryLog) EventsByKey(ctx context.Context, k string) ([]*event.Event, error) {
	return l.EventsByKeyFromSequence(ctx, k, 0)
}

func (l *MemoryLog) EventsByKeyFromSequence(ctx context.Context, k string, fromSeq int64) ([]*event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byKey[k]
	out := make([]*event.Event, 0, len(entries))
	for _, en := range entries {
		if en.seq >= fromSeq {
			out = append(out, en.evt)
		}
	}
	return out, nil
}

func (l *MemoryLog) ReplayAll(ctx context.Context, visit Visitor) error {
	l.mu.RLock()
	all := make([]SeqKey, 0, len(l.bySeqKey))
	for sk := range l.bySeqKey {
		all = append(all, sk)
	}
	l.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Sequence < all[j].Sequence })

	for _, sk := range all {
		l.mu.RLock()
		e := l.bySeqKey[sk]
		l.mu.RUnlock()
		if err := visit(sk, e); err != nil {
			return err
		}
	}
	return nil
}

func (l *MemoryLog) ReplayByKey(ctx context.Context, k string, visit Visitor) error {
	l.mu.RLock()
	entries := append([]entry(nil), l.byKey[k]...)
	l.mu.RUnlock()

	for _, en := range entries {
		if err := visit(SeqKey{Sequence: en.seq, Key: k}, en.evt); err != nil {
			return err
		}
	}
	return nil
}

func (l *MemoryLog) Count(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.bySeqKey)), nil
}

func (l *MemoryLog) CountByKey(ctx context.Context, k string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.byKey[k])), nil
}

func (l *MemoryLog) LatestSequence(ctx context.Context) (int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var max int64
	found := false
	for sk := range l.bySeqKey {
		if !found || sk.Sequence > max {
			max = sk.Sequence
			found = true
		}
	}
	return max, found, nil
}

func (l *MemoryLog) LatestSequenceByKey(ctx context.Context, k string) (int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byKey[k]
	if len(entries) == 0 {
		return 0, false, nil
	}
	return entries[len(entries)-1].seq, true, nil
}

var _ Log = (*MemoryLog)(nil)
