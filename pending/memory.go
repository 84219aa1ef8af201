package pending

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory, FIFO Pending Events Log.
type MemoryLog struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Entry
}

// NewMemoryLog constructs an empty in-memory Pending Events Log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string]Entry)}
}

func (l *MemoryLog) Append(ctx context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[entry.SequenceKey]; exists {
		return nil
	}
	l.entries[entry.SequenceKey] = entry
	l.order = append(l.order, entry.SequenceKey)
	return nil
}

func (l *MemoryLog) Drain(ctx context.Context, max int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max <= 0 || max > len(l.order) {
		max = len(l.order)
	}
	out := make([]Entry, 0, max)
	for _, k := range l.order[:max] {
		if e, ok := l.entries[k]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryLog) Remove(ctx context.Context, sequenceKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, sequenceKey)
	for i, k := range l.order {
		if k == sequenceKey {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

func (l *MemoryLog) Size(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order), nil
}

var _ Log = (*MemoryLog)(nil)
