// Package saga implements the Saga Coordinator's two cooperating modes:
// choreographed sagas (a listener registry reacting to bus events) and
// orchestrated sagas (an ordered-step runtime with compensation).
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/eventcore/bus"
	"github.com/r3e-network/eventcore/event"
	coreerrors "github.com/r3e-network/eventcore/pkg/errors"
	"github.com/r3e-network/eventcore/pkg/logger"
	"github.com/r3e-network/eventcore/pkg/metrics"
)

// Listener reacts to an incoming event by submitting a follow-up command to
// its own domain engine. Listeners must be idempotent: the same event may
// be delivered more than once.
type Listener func(ctx context.Context, e *event.Event) error

// ListenerRegistry binds Listeners to bus topics and enforces a per-attempt
// time budget and a bounded number of attempts per delivered event.
type ListenerRegistry struct {
	b           bus.Bus
	budget      time.Duration
	maxAttempts int
	log         *logger.Logger

	mu   sync.Mutex
	subs []bus.Subscription
}

// RegistryConfig configures a ListenerRegistry.
type RegistryConfig struct {
	// Budget is the maximum wall time a listener may take before it is
	// considered to have failed.
	Budget time.Duration
	// MaxAttempts bounds how many times the listener is invoked for one
	// delivered event. Attempts run back to back within the same delivery;
	// the event is not re-queued, and after the last failure the error is
	// returned to the bus handler call. The registry has no dead-letter sink.
	MaxAttempts int
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{Budget: 5 * time.Second, MaxAttempts: 5}
}

// NewListenerRegistry constructs a ListenerRegistry delivering over b.
func NewListenerRegistry(b bus.Bus, cfg RegistryConfig, log *logger.Logger) *ListenerRegistry {
	if cfg.Budget <= 0 {
		cfg.Budget = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = logger.NewDefault("saga-choreography")
	}
	return &ListenerRegistry{b: b, budget: cfg.Budget, maxAttempts: cfg.MaxAttempts, log: log}
}

// On registers listener against topic. The returned error is from the
// underlying bus subscribe call only.
func (r *ListenerRegistry) On(ctx context.Context, topic string, listener Listener) error {
	sub, err := r.b.Subscribe(ctx, topic, r.wrap(topic, listener))
	if err != nil {
		return fmt.Errorf("saga: register listener on %s: %w", topic, err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return nil
}

// wrap enforces the per-attempt time budget and up to maxAttempts immediate
// retries around a raw Listener, returning a HandlerError once they are
// exhausted.
func (r *ListenerRegistry) wrap(topic string, listener Listener) bus.Handler {
	return func(ctx context.Context, e *event.Event) error {
		var lastErr error
		for attempt := 1; attempt <= r.maxAttempts; attempt++ {
			attemptCtx, cancel := context.WithTimeout(ctx, r.budget)
			err := listener(attemptCtx, e)
			cancel()
			if err == nil {
				metrics.RecordSagaStep(sagaTypeFromEvent(e), topic, "completed")
				return nil
			}
			lastErr = err
			metrics.RecordSagaStep(sagaTypeFromEvent(e), topic, "retrying")
		}
		metrics.RecordSagaStep(sagaTypeFromEvent(e), topic, "dead_lettered")
		r.log.WithFields(map[string]interface{}{
			"topic": topic, "event_id": e.EventID, "error": lastErr.Error(),
		}).Warn("saga: listener exhausted retries")
		return coreerrors.Handler(lastErr).WithEvent(e.EventID)
	}
}

// Close unsubscribes every listener registered through this registry.
func (r *ListenerRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, sub := range r.subs {
		if err := r.b.Unsubscribe(ctx, sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

func sagaTypeFromEvent(e *event.Event) string {
	if e.Saga != nil {
		return e.Saga.SagaType
	}
	return "unknown"
}

// DecorateFollowUp stamps a follow-up event with the originating
// correlationId and saga metadata, per spec §4.7.1's listener contract.
func DecorateFollowUp(follow *event.Event, correlationID string, saga *event.SagaBlock) *event.Event {
	follow.CorrelationID = correlationID
	follow.Saga = saga
	return follow
}
