package outbox

import (
	"context"
	"time"

	"github.com/r3e-network/eventcore/bus"
	"github.com/r3e-network/eventcore/pkg/logger"
	"github.com/r3e-network/eventcore/pkg/metrics"
	"github.com/r3e-network/eventcore/pkg/resilience"
)

// PublisherConfig configures the Outbox Publisher's poll cadence, claim
// batch size, retry budget, and bus-delivery resilience.
type PublisherConfig struct {
	ReplicaID      string
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	PublishTimeout time.Duration
	CircuitBreaker resilience.Config
}

// DefaultPublisherConfig mirrors the env var defaults documented in
// SPEC_FULL.md §6.
func DefaultPublisherConfig(replicaID string) PublisherConfig {
	return PublisherConfig{
		ReplicaID:      replicaID,
		PollInterval:   100 * time.Millisecond,
		BatchSize:      50,
		MaxAttempts:    5,
		PublishTimeout: 5 * time.Second,
		CircuitBreaker: resilience.DefaultConfig(),
	}
}

// Publisher is the single-threaded (per replica, per engine) poll-claim-
// publish loop described in spec §4.6. It claims NEW entries, attempts bus
// delivery under circuit-breaker protection, and routes exhausted entries
// to the dead-letter sink.
type Publisher struct {
	store  Store
	bus    bus.Bus
	cfg    PublisherConfig
	cb     *resilience.CircuitBreaker
	log    *logger.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPublisher constructs a Publisher over store, delivering to b.
func NewPublisher(store Store, b bus.Bus, cfg PublisherConfig, log *logger.Logger) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("outbox")
	}
	return &Publisher{
		store:  store,
		bus:    b,
		cfg:    cfg,
		cb:     resilience.New(cfg.CircuitBreaker),
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run blocks, polling on cfg.PollInterval until ctx is cancelled or Stop is
// called.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.log.WithFields(map[string]interface{}{"error": err.Error()}).Warn("outbox poll failed")
			}
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (p *Publisher) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Publisher) pollOnce(ctx context.Context) error {
	entries, err := p.store.ClaimBatch(ctx, p.cfg.ReplicaID, p.cfg.BatchSize)
	if err != nil {
		metrics.RecordOutboxClaim("error")
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	metrics.RecordOutboxClaim("claimed")

	if depth, err := p.store.Depth(ctx); err == nil {
		metrics.SetOutboxDepth(depth)
	}

	for _, e := range entries {
		p.deliver(ctx, e)
	}
	return nil
}

func (p *Publisher) deliver(ctx context.Context, e Entry) {
	start := time.Now()
	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err := p.cb.Execute(publishCtx, func() error {
		return p.bus.Publish(publishCtx, e.Topic, e.Event)
	})

	if err == nil {
		metrics.RecordOutboxPublish("sent", time.Since(start))
		if markErr := p.store.MarkSent(ctx, e.EntryID); markErr != nil {
			p.log.WithFields(map[string]interface{}{
				"entry_id": e.EntryID, "error": markErr.Error(),
			}).Warn("outbox: failed to mark entry sent after successful publish")
		}
		return
	}

	metrics.RecordOutboxPublish("failed", time.Since(start))
	attempts := e.Attempts + 1
	if attempts >= p.cfg.MaxAttempts {
		if dlErr := p.store.DeadLetter(ctx, e.EntryID, err.Error()); dlErr != nil {
			p.log.WithFields(map[string]interface{}{
				"entry_id": e.EntryID, "error": dlErr.Error(),
			}).Warn("outbox: failed to dead-letter entry")
		}
		return
	}
	if relErr := p.store.Release(ctx, e.EntryID, err.Error()); relErr != nil {
		p.log.WithFields(map[string]interface{}{
			"entry_id": e.EntryID, "error": relErr.Error(),
		}).Warn("outbox: failed to release entry after failed publish")
	}
}
