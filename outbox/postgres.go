package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/eventcore/event"
)

// PostgresStore is a Store backend over `<domain>_OUTBOX` and
// `<domain>_DLQ` tables, grounded on eventlog.PostgresLog's sqlx
// struct-scanning conventions. ClaimBatch uses a single
// UPDATE ... RETURNING statement scoped by a subquery with
// FOR UPDATE SKIP LOCKED so that concurrent replicas never contend on the
// same row and at most one replica ever claims a given entry.
type PostgresStore struct {
	db       *sqlx.DB
	table    string
	dlqTable string
}

// NewPostgresStore constructs a PostgresStore against the given outbox and
// dead-letter tables, which must already exist.
func NewPostgresStore(db *sqlx.DB, table, dlqTable string) *PostgresStore {
	return &PostgresStore{db: db, table: table, dlqTable: dlqTable}
}

type outboxRow struct {
	EntryID   string       `db:"entry_id"`
	Topic     string       `db:"topic"`
	Payload   []byte       `db:"payload"`
	Status    string       `db:"status"`
	ClaimedBy string       `db:"claimed_by"`
	ClaimedAt sql.NullTime `db:"claimed_at"`
	Attempts  int          `db:"attempts"`
	CreatedAt time.Time    `db:"created_at"`
}

type dlqRow struct {
	EntryID   string    `db:"entry_id"`
	Topic     string    `db:"topic"`
	Payload   []byte    `db:"payload"`
	LastError string    `db:"last_error"`
	FailedAt  time.Time `db:"failed_at"`
	Attempts  int       `db:"attempts"`
}

func (s *PostgresStore) Enqueue(ctx context.Context, e Entry) error {
	data, err := e.Event.Marshal()
	if err != nil {
		return fmt.Errorf("outbox: marshal event: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (entry_id, topic, payload, status, attempts, created_at)
		 VALUES ($1, $2, $3, 'NEW', 0, now())
		 ON CONFLICT (entry_id) DO NOTHING`, s.table)
	_, err = s.db.ExecContext(ctx, query, e.EntryID, e.Topic, data)
	if err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimBatch(ctx context.Context, claimedBy string, max int) ([]Entry, error) {
	if max <= 0 {
		max = 100
	}
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'CLAIMED', claimed_by = $1, claimed_at = now()
		WHERE entry_id IN (
			SELECT entry_id FROM %s
			WHERE status = 'NEW'
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING entry_id, topic, payload, status, claimed_by, claimed_at, attempts, created_at`,
		s.table, s.table)

	var rows []outboxRow
	if err := s.db.SelectContext(ctx, &rows, query, claimedBy, max); err != nil {
		return nil, fmt.Errorf("outbox: claim batch: %w", err)
	}
	return decodeOutboxRows(rows)
}

func (s *PostgresStore) MarkSent(ctx context.Context, entryID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE entry_id = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, entryID); err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, entryID string, lastErr string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = 'NEW', claimed_by = '', attempts = attempts + 1 WHERE entry_id = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, entryID); err != nil {
		return fmt.Errorf("outbox: release: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeadLetter(ctx context.Context, entryID string, lastErr string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox: dead letter begin: %w", err)
	}
	defer tx.Rollback()

	var row outboxRow
	selQuery := fmt.Sprintf(`SELECT entry_id, topic, payload, status, claimed_by, claimed_at, attempts, created_at
		FROM %s WHERE entry_id = $1`, s.table)
	if err := tx.GetContext(ctx, &row, selQuery, entryID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("outbox: dead letter lookup: %w", err)
	}

	insQuery := fmt.Sprintf(
		`INSERT INTO %s (entry_id, topic, payload, last_error, failed_at, attempts)
		 VALUES ($1, $2, $3, $4, now(), $5)
		 ON CONFLICT (entry_id) DO UPDATE SET last_error = EXCLUDED.last_error, failed_at = EXCLUDED.failed_at`,
		s.dlqTable)
	if _, err := tx.ExecContext(ctx, insQuery, row.EntryID, row.Topic, row.Payload, lastErr, row.Attempts); err != nil {
		return fmt.Errorf("outbox: dead letter insert: %w", err)
	}

	delQuery := fmt.Sprintf(`DELETE FROM %s WHERE entry_id = $1`, s.table)
	if _, err := tx.ExecContext(ctx, delQuery, entryID); err != nil {
		return fmt.Errorf("outbox: dead letter delete: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Depth(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status IN ('NEW', 'CLAIMED')`, s.table)
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("outbox: depth: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]DeadLetterEntry, error) {
	query := fmt.Sprintf(
		`SELECT entry_id, topic, payload, last_error, failed_at, attempts FROM %s
		 ORDER BY failed_at ASC LIMIT $1 OFFSET $2`, s.dlqTable)
	if limit <= 0 {
		limit = 100
	}
	var rows []dlqRow
	if err := s.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, fmt.Errorf("outbox: list dead letters: %w", err)
	}
	out := make([]DeadLetterEntry, 0, len(rows))
	for _, r := range rows {
		e, err := event.Unmarshal(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, DeadLetterEntry{
			EntryID: r.EntryID, Topic: r.Topic, Event: e,
			LastError: r.LastError, FailedAt: r.FailedAt, Attempts: r.Attempts,
		})
	}
	return out, nil
}

func (s *PostgresStore) RetryDeadLetter(ctx context.Context, entryID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("outbox: retry dead letter begin: %w", err)
	}
	defer tx.Rollback()

	var row dlqRow
	selQuery := fmt.Sprintf(`SELECT entry_id, topic, payload, last_error, failed_at, attempts FROM %s WHERE entry_id = $1`, s.dlqTable)
	if err := tx.GetContext(ctx, &row, selQuery, entryID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("outbox: retry dead letter lookup: %w", err)
	}

	insQuery := fmt.Sprintf(
		`INSERT INTO %s (entry_id, topic, payload, status, attempts, created_at)
		 VALUES ($1, $2, $3, 'NEW', 0, now())
		 ON CONFLICT (entry_id) DO UPDATE SET status = 'NEW', attempts = 0`, s.table)
	if _, err := tx.ExecContext(ctx, insQuery, row.EntryID, row.Topic, row.Payload); err != nil {
		return false, fmt.Errorf("outbox: retry dead letter insert: %w", err)
	}

	delQuery := fmt.Sprintf(`DELETE FROM %s WHERE entry_id = $1`, s.dlqTable)
	if _, err := tx.ExecContext(ctx, delQuery, entryID); err != nil {
		return false, fmt.Errorf("outbox: retry dead letter delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) DismissDeadLetter(ctx context.Context, entryID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE entry_id = $1`, s.dlqTable)
	if _, err := s.db.ExecContext(ctx, query, entryID); err != nil {
		return fmt.Errorf("outbox: dismiss dead letter: %w", err)
	}
	return nil
}

func decodeOutboxRows(rows []outboxRow) ([]Entry, error) {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := event.Unmarshal(r.Payload)
		if err != nil {
			return nil, err
		}
		entry := Entry{
			EntryID:   r.EntryID,
			Topic:     r.Topic,
			Event:     e,
			Status:    Status(r.Status),
			ClaimedBy: r.ClaimedBy,
			Attempts:  r.Attempts,
			CreatedAt: r.CreatedAt,
		}
		if r.ClaimedAt.Valid {
			entry.ClaimedAt = r.ClaimedAt.Time
		}
		out = append(out, entry)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
