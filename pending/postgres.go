package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/eventcore/event"
)

// PostgresLog is a Log backend over a `<domain>_PENDING` table. No trigger
// or NOTIFY is installed on the table; the pipeline finds new rows by
// calling Drain on its DrainInterval.
type PostgresLog struct {
	db    *sqlx.DB
	table string
}

// NewPostgresLog constructs a PostgresLog against the given table.
func NewPostgresLog(db *sqlx.DB, table string) *PostgresLog {
	return &PostgresLog{db: db, table: table}
}

type pendingRow struct {
	SequenceKey   string    `db:"sequence_key"`
	Payload       []byte    `db:"payload"`
	CorrelationID string    `db:"correlation_id"`
	EnqueuedAt    time.Time `db:"enqueued_at"`
}

func (l *PostgresLog) Append(ctx context.Context, entry Entry) error {
	data, err := entry.Event.Marshal()
	if err != nil {
		return fmt.Errorf("pending: marshal event: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (sequence_key, payload, correlation_id, enqueued_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (sequence_key) DO NOTHING`, l.table)
	_, err = l.db.ExecContext(ctx, query, entry.SequenceKey, data, entry.CorrelationID, entry.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("pending: append: %w", err)
	}
	return nil
}

func (l *PostgresLog) Drain(ctx context.Context, max int) ([]Entry, error) {
	var rows []pendingRow
	query := fmt.Sprintf(`SELECT sequence_key, payload, correlation_id, enqueued_at FROM %s ORDER BY enqueued_at ASC`, l.table)
	if max > 0 {
		query += fmt.Sprintf(" LIMIT %d", max)
	}
	if err := l.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("pending: drain: %w", err)
	}

	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := event.Unmarshal(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{
			SequenceKey:   r.SequenceKey,
			Event:         e,
			CorrelationID: r.CorrelationID,
			EnqueuedAt:    r.EnqueuedAt,
		})
	}
	return out, nil
}

func (l *PostgresLog) Remove(ctx context.Context, sequenceKey string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE sequence_key = $1`, l.table)
	if _, err := l.db.ExecContext(ctx, query, sequenceKey); err != nil {
		return fmt.Errorf("pending: remove: %w", err)
	}
	return nil
}

func (l *PostgresLog) Size(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, l.table)
	if err := l.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("pending: size: %w", err)
	}
	return n, nil
}

var _ Log = (*PostgresLog)(nil)
