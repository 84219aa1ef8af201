package viewstore

import (
	"context"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
	"github.com/r3e-network/eventcore/pkg/cache"
)

// CachedStore wraps a Store with a read-through TTLCache in front of Get,
// per SPEC_FULL.md's optional read-through layer for remote backends (the
// Postgres view table in particular, where Get is a round trip). Every
// mutation made through the CachedStore invalidates the affected key; a
// write that reaches the inner store directly is not seen by Get until the
// cached entry expires. ExecuteOnKey's own store-level serialization still
// governs correctness, the cache only saves round trips on the read path.
type CachedStore struct {
	inner Store
	cache *cache.TTLCache
}

// NewCachedStore wraps inner with the read-through cache c; entries live for
// c's TTL.
func NewCachedStore(inner Store, c *cache.TTLCache) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

func (s *CachedStore) Get(ctx context.Context, k string) (any, bool, error) {
	if v, ok := s.cache.Get(ctx, k); ok {
		if v == nil {
			return nil, false, nil
		}
		return v, true, nil
	}
	state, ok, err := s.inner.Get(ctx, k)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.cache.Set(ctx, k, state)
	}
	return state, ok, nil
}

func (s *CachedStore) Put(ctx context.Context, k string, state any) error {
	if err := s.inner.Put(ctx, k, state); err != nil {
		return err
	}
	s.cache.Delete(ctx, k)
	return nil
}

func (s *CachedStore) Remove(ctx context.Context, k string) (any, bool, error) {
	prior, ok, err := s.inner.Remove(ctx, k)
	s.cache.Delete(ctx, k)
	return prior, ok, err
}

func (s *CachedStore) ContainsKey(ctx context.Context, k string) (bool, error) {
	return s.inner.ContainsKey(ctx, k)
}

func (s *CachedStore) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

func (s *CachedStore) Values(ctx context.Context) ([]any, error) {
	return s.inner.Values(ctx)
}

func (s *CachedStore) Size(ctx context.Context) (int, error) {
	return s.inner.Size(ctx)
}

func (s *CachedStore) Clear(ctx context.Context) error {
	if err := s.inner.Clear(ctx); err != nil {
		return err
	}
	s.cache.InvalidateAll()
	return nil
}

func (s *CachedStore) Query(ctx context.Context, pred Predicate) (map[string]any, error) {
	return s.inner.Query(ctx, pred)
}

func (s *CachedStore) ExecuteOnKey(ctx context.Context, k string, mutate Mutator) (any, error) {
	next, err := s.inner.ExecuteOnKey(ctx, k, mutate)
	s.cache.Delete(ctx, k)
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *CachedStore) Rebuild(ctx context.Context, log eventlog.Log, project Projector) error {
	if err := s.inner.Rebuild(ctx, log, project); err != nil {
		return err
	}
	s.cache.InvalidateAll()
	return nil
}

var _ Store = (*CachedStore)(nil)
