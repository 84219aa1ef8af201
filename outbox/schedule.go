package outbox

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/eventcore/pkg/logger"
)

// RetentionScheduler runs a periodic DLQ housekeeping job (retention
// reporting, stale-entry audit) on a cron expression, independent of the
// Publisher's fixed-interval poll loop. It is optional: an engine with no
// operator-facing retention policy need not construct one.
type RetentionScheduler struct {
	cron  *cron.Cron
	store Store
	log   *logger.Logger
}

// NewRetentionScheduler constructs a scheduler over store.
func NewRetentionScheduler(store Store, log *logger.Logger) *RetentionScheduler {
	if log == nil {
		log = logger.NewDefault("outbox-retention")
	}
	return &RetentionScheduler{
		cron:  cron.New(),
		store: store,
		log:   log,
	}
}

// Schedule registers the housekeeping job on expr: a descriptor such as
// "@every 1h" or a standard 5-field cron expression (e.g. "0 * * * *" for
// hourly). Returns an error if expr does not parse.
func (s *RetentionScheduler) Schedule(ctx context.Context, expr string) error {
	_, err := s.cron.AddFunc(expr, func() { s.sweep(ctx) })
	return err
}

// Start begins running scheduled jobs in the background.
func (s *RetentionScheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *RetentionScheduler) Stop() { <-s.cron.Stop().Done() }

func (s *RetentionScheduler) sweep(ctx context.Context) {
	entries, err := s.store.ListDeadLetters(ctx, 1, 0)
	if err != nil {
		s.log.WithFields(map[string]interface{}{"error": err.Error()}).Warn("outbox retention: failed to list dead letters")
		return
	}
	if len(entries) > 0 {
		s.log.WithFields(map[string]interface{}{"count": len(entries)}).Warn("outbox retention: dead-letter entries awaiting operator review")
	}
}
