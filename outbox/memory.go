package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, suitable for single-replica
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	dlq     map[string]*DeadLetterEntry
}

// NewMemoryStore constructs an empty in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		dlq:     make(map[string]*DeadLetterEntry),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.EntryID]; exists {
		return nil
	}
	if e.Status == "" {
		e.Status = StatusNew
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := e
	s.entries[e.EntryID] = &cp
	return nil
}

func (s *MemoryStore) ClaimBatch(ctx context.Context, claimedBy string, max int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if e.Status == StatusNew {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.entries[ids[i]].CreatedAt.Before(s.entries[ids[j]].CreatedAt)
	})
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}

	claimed := make([]Entry, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		e := s.entries[id]
		e.Status = StatusClaimed
		e.ClaimedBy = claimedBy
		e.ClaimedAt = now
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, entryID string, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil
	}
	e.Status = StatusNew
	e.ClaimedBy = ""
	e.Attempts++
	return nil
}

func (s *MemoryStore) DeadLetter(ctx context.Context, entryID string, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil
	}
	delete(s.entries, entryID)
	s.dlq[entryID] = &DeadLetterEntry{
		EntryID:   e.EntryID,
		Topic:     e.Topic,
		Event:     e.Event,
		LastError: lastErr,
		FailedAt:  time.Now(),
		Attempts:  e.Attempts,
	}
	return nil
}

func (s *MemoryStore) Depth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == StatusNew || e.Status == StatusClaimed {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.dlq))
	for id := range s.dlq {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.dlq[ids[i]].FailedAt.Before(s.dlq[ids[j]].FailedAt)
	})
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.dlq[id])
	}
	return out, nil
}

func (s *MemoryStore) RetryDeadLetter(ctx context.Context, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dlq[entryID]
	if !ok {
		return false, nil
	}
	delete(s.dlq, entryID)
	s.entries[entryID] = &Entry{
		EntryID:   d.EntryID,
		Topic:     d.Topic,
		Event:     d.Event,
		Status:    StatusNew,
		Attempts:  0,
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (s *MemoryStore) DismissDeadLetter(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dlq, entryID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
