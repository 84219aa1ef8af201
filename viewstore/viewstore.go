// Package viewstore implements the View Store: key to current-projection
// mapping with per-key atomic read-modify-write.
package viewstore

import (
	"context"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
)

// Mutator receives the current state for a key (nil if absent) and returns
// the new state, or nil to delete the entry.
type Mutator func(current any) (any, error)

// Predicate is used by Query to linear-scan the store.
type Predicate func(key string, state any) bool

// Projector applies an event to a prior projection state and returns the
// new state. Domain engines supply one per event type they project.
type Projector func(current any, e *event.Event) (any, error)

// Store is the View Store contract.
type Store interface {
	Get(ctx context.Context, k string) (any, bool, error)
	Put(ctx context.Context, k string, state any) error
	Remove(ctx context.Context, k string) (any, bool, error)
	ContainsKey(ctx context.Context, k string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Values(ctx context.Context) ([]any, error)
	Size(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Query(ctx context.Context, pred Predicate) (map[string]any, error)

	// ExecuteOnKey atomically applies mutate to the current state at k. The
	// engine guarantees no two ExecuteOnKey calls for the same k run
	// concurrently; calls for distinct keys may run in parallel.
	ExecuteOnKey(ctx context.Context, k string, mutate Mutator) (any, error)

	// Rebuild clears the store then replays log through project to
	// reconstruct every projection, for cold start with no persistent
	// state.
	Rebuild(ctx context.Context, log eventlog.Log, project Projector) error
}
