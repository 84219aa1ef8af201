// Package engine assembles the Domain Engine: one Event Log + View Store +
// Pipeline + Outbox + Completion Tracker instance, specialized for a single
// business domain, built from the core packages via a functional-options
// builder.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/eventcore/bus"
	"github.com/r3e-network/eventcore/completion"
	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
	"github.com/r3e-network/eventcore/idgen"
	"github.com/r3e-network/eventcore/outbox"
	"github.com/r3e-network/eventcore/pending"
	"github.com/r3e-network/eventcore/pipeline"
	"github.com/r3e-network/eventcore/pkg/logger"
	"github.com/r3e-network/eventcore/viewstore"
)

// CompletionResult is handleCommand's resolved future value.
type CompletionResult struct {
	Status           completion.Status
	ErrorMessage     string
	ProcessingTimeMS int64
}

// Engine is the public surface exposed to integration layers.
type Engine struct {
	name string

	ids        *idgen.Generator
	pendingLog pending.Log
	eventLog   eventlog.Log
	views      viewstore.Store
	outboxS    outbox.Store
	tracker    *completion.Tracker
	publisher  *outbox.Publisher
	pipe       *pipeline.Pipeline
	log        *logger.Logger

	waitTimeout time.Duration

	cancel context.CancelFunc
}

// Option configures an Engine at construction time.
type Option func(*config)

type config struct {
	workers         int
	drainInterval   time.Duration
	maxStageRetries int
	stageRetryDelay time.Duration
	waitTimeout     time.Duration
	publisherCfg    *outbox.PublisherConfig
	logger          *logger.Logger
}

// WithWorkers sets the pipeline's worker pool size.
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

// WithDrainInterval sets how often each pipeline worker polls the pending log.
func WithDrainInterval(d time.Duration) Option { return func(c *config) { c.drainInterval = d } }

// WithMaxStageRetries bounds stage 2/3 retries before dead-lettering.
func WithMaxStageRetries(n int) Option { return func(c *config) { c.maxStageRetries = n } }

// WithStageRetryDelay sets the pause between stage retries.
func WithStageRetryDelay(d time.Duration) Option { return func(c *config) { c.stageRetryDelay = d } }

// WithWaitTimeout sets HandleCommand's default completion wait timeout.
func WithWaitTimeout(d time.Duration) Option { return func(c *config) { c.waitTimeout = d } }

// WithPublisherConfig overrides the Outbox Publisher's poll cadence and
// retry/circuit-breaker policy.
func WithPublisherConfig(cfg outbox.PublisherConfig) Option {
	return func(c *config) { c.publisherCfg = &cfg }
}

// WithLogger overrides the engine's logger.
func WithLogger(log *logger.Logger) Option { return func(c *config) { c.logger = log } }

// Deps bundles the storage and bus backends a New Engine is built over.
// Callers choose memory or Postgres implementations per SPEC_FULL.md §9.
type Deps struct {
	Name          string
	ReplicaID     int64
	PendingLog    pending.Log
	EventLog      eventlog.Log
	ViewStore     viewstore.Store
	OutboxStore   outbox.Store
	// Bus is optional: when nil, the Engine runs without an Outbox
	// Publisher and outbox entries accumulate for a separately-driven
	// publisher (e.g. a shared publisher across several engines).
	Bus           bus.Bus
	Project       pipeline.Projector
	CompletionTTL time.Duration
}

// New assembles an Engine from deps and the given Options.
func New(deps Deps, opts ...Option) (*Engine, error) {
	cfg := config{
		workers:         4,
		drainInterval:   50 * time.Millisecond,
		maxStageRetries: 5,
		stageRetryDelay: 100 * time.Millisecond,
		waitTimeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewDefault("engine:" + deps.Name)
	}

	ids, err := idgen.New(deps.ReplicaID)
	if err != nil {
		return nil, fmt.Errorf("engine: identifier generator: %w", err)
	}

	ttl := deps.CompletionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	tracker := completion.New(ttl)

	pcfg := pipeline.DefaultConfig()
	pcfg.Workers = cfg.workers
	pcfg.DrainInterval = cfg.drainInterval
	pcfg.MaxStageRetries = cfg.maxStageRetries
	pcfg.StageRetryDelay = cfg.stageRetryDelay
	pcfg.Source = deps.Name

	dlq := &dlqSink{store: deps.OutboxStore}

	pipe := pipeline.New(pcfg, deps.PendingLog, deps.EventLog, deps.ViewStore, deps.OutboxStore, tracker, dlq, deps.Project, cfg.logger)

	var publisher *outbox.Publisher
	if deps.Bus != nil {
		pubCfg := outbox.DefaultPublisherConfig(fmt.Sprintf("%s-%d", deps.Name, deps.ReplicaID))
		if cfg.publisherCfg != nil {
			pubCfg = *cfg.publisherCfg
		}
		publisher = outbox.NewPublisher(deps.OutboxStore, deps.Bus, pubCfg, cfg.logger)
	}

	return &Engine{
		name: deps.Name, ids: ids, pendingLog: deps.PendingLog, eventLog: deps.EventLog,
		views: deps.ViewStore, outboxS: deps.OutboxStore, tracker: tracker,
		publisher: publisher, pipe: pipe, log: cfg.logger, waitTimeout: cfg.waitTimeout,
	}, nil
}

type dlqSink struct {
	store outbox.Store
}

func (d *dlqSink) Record(ctx context.Context, e *event.Event, stage string, lastErr error) error {
	if d.store == nil || e == nil {
		return nil
	}
	entryID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(e.EventID+":"+stage)).String()
	if err := d.store.Enqueue(ctx, outbox.Entry{EntryID: entryID, Topic: e.EventType, Event: e}); err != nil {
		return err
	}
	return d.store.DeadLetter(ctx, entryID, lastErr.Error())
}

// Start launches the pipeline and (if configured) the outbox publisher.
// Run returns once ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.pipe.Run(runCtx)
	if e.publisher != nil {
		go e.publisher.Run(runCtx)
	}
}

// Stop halts the pipeline and publisher.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.pipe.Stop()
	if e.publisher != nil {
		e.publisher.Stop()
	}
}

// HandleCommand is the sole ingress: it assigns a sequence number, appends
// to the Pending Events Log, registers a completion waiter, and blocks (up
// to the engine's wait timeout) for the pipeline to resolve it.
func (e *Engine) HandleCommand(ctx context.Context, cmd *event.Event, correlationID string, sagaMeta *event.SagaBlock) (CompletionResult, error) {
	start := time.Now()

	seq, err := e.ids.Next()
	if err != nil {
		return CompletionResult{}, fmt.Errorf("engine: identifier generator exhausted: %w", err)
	}
	seqKey := eventlog.SeqKey{Sequence: seq, Key: cmd.Key}
	sequenceKey := eventlog.FormatSequenceKey(seqKey)

	if correlationID != "" {
		cmd.CorrelationID = correlationID
	}
	if sagaMeta != nil {
		cmd.Saga = sagaMeta
	}

	e.tracker.Register(sequenceKey)

	if err := e.pendingLog.Append(ctx, pending.Entry{
		SequenceKey: sequenceKey, Event: cmd, CorrelationID: cmd.CorrelationID, EnqueuedAt: time.Now(),
	}); err != nil {
		e.tracker.Cancel(sequenceKey)
		return CompletionResult{}, fmt.Errorf("engine: append to pending log: %w", err)
	}

	rec, err := e.tracker.Wait(ctx, sequenceKey, e.waitTimeout)
	if err != nil {
		return CompletionResult{}, err
	}
	return CompletionResult{
		Status:           rec.Status,
		ErrorMessage:     rec.ErrorMessage,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// View performs a direct read of the current projection at k.
func (e *Engine) View(ctx context.Context, k string) (any, bool, error) {
	return e.views.Get(ctx, k)
}

// Query scans the View Store for entries matching pred.
func (e *Engine) Query(ctx context.Context, pred viewstore.Predicate) (map[string]any, error) {
	return e.views.Query(ctx, pred)
}

// ReplayAll visits every event in the Event Log in sequence order.
func (e *Engine) ReplayAll(ctx context.Context, visit eventlog.Visitor) error {
	return e.eventLog.ReplayAll(ctx, visit)
}

// ReplayByKey visits every event for k in sequence order.
func (e *Engine) ReplayByKey(ctx context.Context, k string, visit eventlog.Visitor) error {
	return e.eventLog.ReplayByKey(ctx, k, visit)
}

// RebuildViews clears the View Store and reprojects from the Event Log.
func (e *Engine) RebuildViews(ctx context.Context, project viewstore.Projector) error {
	return e.views.Rebuild(ctx, e.eventLog, project)
}

// ListDlqEntries lists dead-letter entries for operator review.
func (e *Engine) ListDlqEntries(ctx context.Context, limit, offset int) ([]outbox.DeadLetterEntry, error) {
	return e.outboxS.ListDeadLetters(ctx, limit, offset)
}

// RetryDlqEntry moves a dead-letter entry back to NEW.
func (e *Engine) RetryDlqEntry(ctx context.Context, entryID string) (bool, error) {
	return e.outboxS.RetryDeadLetter(ctx, entryID)
}

// DismissDlqEntry permanently removes a dead-letter entry.
func (e *Engine) DismissDlqEntry(ctx context.Context, entryID string) error {
	return e.outboxS.DismissDeadLetter(ctx, entryID)
}
