package viewstore

import (
	"context"
	"sync"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
)

// MemoryStore is an in-memory Store backend. ExecuteOnKey serializes
// mutators per key via a per-key lock map, so operations on distinct keys
// proceed in parallel while operations on the same key never interleave.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]any
	keyLocks map[string]*sync.Mutex
}

// NewMemoryStore constructs an empty in-memory View Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]any),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) lockFor(k string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[k] = l
	}
	return l
}

func (s *MemoryStore) Get(ctx context.Context, k string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[k]
	return v, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, k string, state any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[k] = state
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, k string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[k]
	if ok {
		delete(s.data, k)
	}
	return v, ok, nil
}

func (s *MemoryStore) ContainsKey(ctx context.Context, k string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[k]
	return ok, nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out, nil
}

func (s *MemoryStore) Values(ctx context.Context) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]any, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any)
	s.keyLocks = make(map[string]*sync.Mutex)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, pred Predicate) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for k, v := range s.data {
		if pred(k, v) {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) ExecuteOnKey(ctx context.Context, k string, mutate Mutator) (any, error) {
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current := s.data[k]
	s.mu.RUnlock()

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if next == nil {
		delete(s.data, k)
	} else {
		s.data[k] = next
	}
	s.mu.Unlock()

	return next, nil
}

func (s *MemoryStore) Rebuild(ctx context.Context, log eventlog.Log, project Projector) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}
	return log.ReplayAll(ctx, func(sk eventlog.SeqKey, e *event.Event) error {
		_, err := s.ExecuteOnKey(ctx, sk.Key, func(current any) (any, error) {
			return project(current, e)
		})
		return err
	})
}

var _ Store = (*MemoryStore)(nil)
