// Package pipeline implements the six-stage event pipeline: timestamp &
// metadata, persist, project, publish (outbox), remove from pending, and
// complete. A worker pool drains the Pending Events Log; per-key lanes
// serialize stages persist and project so a later event for a key is never
// projected ahead of an earlier one.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/eventcore/completion"
	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
	coreerrors "github.com/r3e-network/eventcore/pkg/errors"
	"github.com/r3e-network/eventcore/pkg/logger"
	"github.com/r3e-network/eventcore/pkg/metrics"
	"github.com/r3e-network/eventcore/outbox"
	"github.com/r3e-network/eventcore/pending"
	"github.com/r3e-network/eventcore/viewstore"
)

// Projector applies e to the current projected state for e's key, returning
// the new state (or nil to delete the projection).
type Projector = viewstore.Projector

// DeadLetterSink receives events whose stage 2, 3 or 4 retries were exhausted.
type DeadLetterSink interface {
	Record(ctx context.Context, e *event.Event, stage string, lastErr error) error
}

// Config controls pipeline concurrency and retry policy.
type Config struct {
	Workers        int
	DrainBatchSize int
	DrainInterval  time.Duration
	MaxStageRetries int
	StageRetryDelay time.Duration
	Source         string // this engine's name, stamped into event.Source
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		DrainBatchSize:  50,
		DrainInterval:   50 * time.Millisecond,
		MaxStageRetries: 5,
		StageRetryDelay: 100 * time.Millisecond,
	}
}

// Pipeline drains pending.Log and drives each entry through the six stages.
type Pipeline struct {
	cfg Config

	pending    pending.Log
	eventLog   eventlog.Log
	views      viewstore.Store
	outboxS    outbox.Store
	completion *completion.Tracker
	dlq        DeadLetterSink
	project    Projector
	log        *logger.Logger

	keyLanesMu sync.Mutex
	keyLanes   map[string]*sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Pipeline. project is the domain's projector, invoked via
// View Store.ExecuteOnKey during stage 3.
func New(
	cfg Config,
	pendingLog pending.Log,
	eventLog eventlog.Log,
	views viewstore.Store,
	outboxStore outbox.Store,
	tracker *completion.Tracker,
	dlq DeadLetterSink,
	project Projector,
	log *logger.Logger,
) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DrainBatchSize <= 0 {
		cfg.DrainBatchSize = 50
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 50 * time.Millisecond
	}
	if cfg.MaxStageRetries <= 0 {
		cfg.MaxStageRetries = 5
	}
	if cfg.StageRetryDelay <= 0 {
		cfg.StageRetryDelay = 100 * time.Millisecond
	}
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Pipeline{
		cfg: cfg, pending: pendingLog, eventLog: eventLog, views: views,
		outboxS: outboxStore, completion: tracker, dlq: dlq, project: project, log: log,
		keyLanes: make(map[string]*sync.Mutex),
		stopCh:   make(chan struct{}), doneCh: make(chan struct{}),
	}
}

// Run starts cfg.Workers drain loops and blocks until ctx is cancelled or
// Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.doneCh)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

// Stop signals every worker loop to return and waits for Run to complete.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) {
	entries, err := p.pending.Drain(ctx, p.cfg.DrainBatchSize)
	if err != nil {
		p.log.WithFields(map[string]interface{}{"error": err.Error()}).Warn("pipeline: drain failed")
		return
	}
	var wg sync.WaitGroup
	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.process(ctx, entry)
		}()
	}
	wg.Wait()
}

// lockFor returns the per-key lane mutex for k, creating it lazily.
func (p *Pipeline) lockFor(k string) *sync.Mutex {
	p.keyLanesMu.Lock()
	defer p.keyLanesMu.Unlock()
	m, ok := p.keyLanes[k]
	if !ok {
		m = &sync.Mutex{}
		p.keyLanes[k] = m
	}
	return m
}

// process drives one pending entry through stages 1-6.
func (p *Pipeline) process(ctx context.Context, entry pending.Entry) {
	seqKey, err := eventlog.ParseSequenceKey(entry.SequenceKey)
	if err != nil {
		p.log.WithFields(map[string]interface{}{"error": err.Error()}).Warn("pipeline: malformed sequence key, dropping")
		return
	}

	e := entry.Event

	// Stage 1: timestamp & metadata.
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = entry.CorrelationID
	}
	if e.Source == "" {
		e.Source = p.cfg.Source
	}

	start := time.Now()

	// Stages 2-3 run under the per-key lane so projection order matches
	// Event Log sequence order for this key.
	lane := p.lockFor(e.Key)
	lane.Lock()
	stageErr := p.persistAndProject(ctx, seqKey, e)
	lane.Unlock()

	if stageErr != nil {
		p.completeFailed(ctx, entry.SequenceKey, e, stageErr)
		return
	}
	metrics.RecordPipelineStage("persist_project", "ok", time.Since(start))

	// Stage 4: publish to outbox. Idempotent: re-enqueuing the same
	// entryId after a crash-and-replay is a no-op.
	outboxStart := time.Now()
	if err := p.retryStage(ctx, "publish", func() error {
		return p.outboxS.Enqueue(ctx, outbox.Entry{
			EntryID: outboxEntryID(seqKey), Topic: e.EventType, Event: e,
		})
	}); err != nil {
		p.completeFailed(ctx, entry.SequenceKey, e, err)
		return
	}
	metrics.RecordPipelineStage("publish", "ok", time.Since(outboxStart))

	// Stage 5: remove from pending. Idempotent: removing an already-
	// removed entry after a crash-and-replay is a no-op.
	if err := p.retryStage(ctx, "remove_pending", func() error {
		return p.pending.Remove(ctx, entry.SequenceKey)
	}); err != nil {
		p.log.WithFields(map[string]interface{}{
			"sequence_key": entry.SequenceKey, "error": err.Error(),
		}).Warn("pipeline: failed to remove pending entry after max retries")
	}

	// Stage 6: complete.
	p.completeSuccess(ctx, entry.SequenceKey)
	metrics.RecordPipelineCompletion(e.EventType, "completed")
}

func (p *Pipeline) persistAndProject(ctx context.Context, seqKey eventlog.SeqKey, e *event.Event) error {
	if err := p.retryStage(ctx, "persist", func() error {
		return p.eventLog.Append(ctx, seqKey, e)
	}); err != nil {
		return err
	}

	// A ConflictError from the projector is a domain invariant violation
	// (e.g. insufficient stock), not a store failure: the event stays
	// persisted, but stage 3 fails once and is never retried or
	// dead-lettered — per spec §7 it's the saga's job to compensate, not
	// the pipeline's job to keep hammering an outcome that won't change.
	var conflictErr error
	projectOnce := func() error {
		_, err := p.views.ExecuteOnKey(ctx, e.Key, func(current any) (any, error) {
			next, perr := p.project(current, e)
			if perr != nil && coreerrors.Is(perr, coreerrors.KindConflict) {
				conflictErr = perr
				return current, nil
			}
			return next, perr
		})
		if conflictErr != nil {
			return nil
		}
		return err
	}

	if err := p.retryStage(ctx, "project", projectOnce); err != nil {
		return err
	}
	if conflictErr != nil {
		metrics.RecordPipelineStage("project", "conflict", 0)
		return conflictErr
	}
	return nil
}

// retryStage runs fn up to cfg.MaxStageRetries times, pausing
// cfg.StageRetryDelay between attempts, and records each outcome.
func (p *Pipeline) retryStage(ctx context.Context, stage string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxStageRetries; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			metrics.RecordPipelineStage(stage, "retry", 0)
			if attempt < p.cfg.MaxStageRetries {
				select {
				case <-time.After(p.cfg.StageRetryDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}
		return nil
	}
	return coreerrors.Wrap(coreerrors.KindTransientStore, fmt.Sprintf("stage %s exhausted retries", stage), lastErr).
		WithAttempts(p.cfg.MaxStageRetries)
}

func (p *Pipeline) completeSuccess(ctx context.Context, sequenceKey string) {
	p.completion.Resolve(sequenceKey, completion.Record{
		SequenceKey: sequenceKey,
		Status:      completion.StatusCompleted,
		CompletedAt: time.Now(),
	})
}

func (p *Pipeline) completeFailed(ctx context.Context, sequenceKey string, e *event.Event, err error) {
	eventType := "unknown"
	if e != nil {
		eventType = e.EventType
	}
	p.completion.Resolve(sequenceKey, completion.Record{
		SequenceKey:  sequenceKey,
		Status:       completion.StatusFailed,
		ErrorMessage: err.Error(),
		CompletedAt:  time.Now(),
	})
	metrics.RecordPipelineCompletion(eventType, "failed")

	// A ConflictError is an expected business outcome the event was
	// persisted for, not a delivery failure: it never goes to the
	// dead-letter sink, which is reserved for exhausted-retry store and
	// publish failures (§7).
	if coreerrors.Is(err, coreerrors.KindConflict) {
		return
	}
	metrics.RecordDeadLetter(eventType, err.Error())
	if p.dlq != nil {
		if dlqErr := p.dlq.Record(ctx, e, "pipeline", err); dlqErr != nil {
			p.log.WithFields(map[string]interface{}{"error": dlqErr.Error()}).Warn("pipeline: failed to record dead letter")
		}
	}
}

// outboxEntryID derives a stable, idempotent outbox entry id from seqKey so
// that a crash-and-replay re-enqueue is recognized as a duplicate.
func outboxEntryID(seqKey eventlog.SeqKey) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventlog.FormatSequenceKey(seqKey))).String()
}
