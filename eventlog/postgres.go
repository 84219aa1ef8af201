package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/eventcore/event"
)

// PostgresLog is a Log backend over a `<domain>_ES` table, queried through
// sqlx's struct-scanning GetContext/SelectContext.
type PostgresLog struct {
	db    *sqlx.DB
	table string
}

// NewPostgresLog constructs a PostgresLog against the given table, which
// must already exist with sequence, key and payload columns and a unique
// (sequence, key) constraint; migrations/ does not create it.
func NewPostgresLog(db *sqlx.DB, table string) *PostgresLog {
	return &PostgresLog{db: db, table: table}
}

type eventRow struct {
	Sequence int64  `db:"sequence"`
	Key      string `db:"key"`
	Payload  []byte `db:"payload"`
}

func (l *PostgresLog) Append(ctx context.Context, seqKey SeqKey, e *event.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (sequence, key, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (sequence, key) DO NOTHING`, l.table)
	_, err = l.db.ExecContext(ctx, query, seqKey.Sequence, seqKey.Key, data)
	if err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

func (l *PostgresLog) Get(ctx context.Context, seqKey SeqKey) (*event.Event, bool, error) {
	var row eventRow
	query := fmt.Sprintf(`SELECT sequence, key, payload FROM %s WHERE sequence = $1 AND key = $2`, l.table)
	err := l.db.GetContext(ctx, &row, query, seqKey.Sequence, seqKey.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("eventlog: get: %w", err)
	}
	e, err := event.Unmarshal(row.Payload)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (l *PostgresLog) EventsByKey(ctx context.Context, k string) ([]*event.Event, error) {
	return l.EventsByKeyFromSequence(ctx, k, 0)
}

func (l *PostgresLog) EventsByKeyFromSequence(ctx context.Context, k string, fromSeq int64) ([]*event.Event, error) {
	var rows []eventRow
	query := fmt.Sprintf(
		`SELECT sequence, key, payload FROM %s WHERE key = $1 AND sequence >= $2 ORDER BY sequence ASC`, l.table)
	if err := l.db.SelectContext(ctx, &rows, query, k, fromSeq); err != nil {
		return nil, fmt.Errorf("eventlog: events by key: %w", err)
	}
	return decodeRows(rows)
}

func (l *PostgresLog) ReplayAll(ctx context.Context, visit Visitor) error {
	var rows []eventRow
	query := fmt.Sprintf(`SELECT sequence, key, payload FROM %s ORDER BY sequence ASC`, l.table)
	if err := l.db.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("eventlog: replay all: %w", err)
	}
	for _, r := range rows {
		e, err := event.Unmarshal(r.Payload)
		if err != nil {
			return err
		}
		if err := visit(SeqKey{Sequence: r.Sequence, Key: r.Key}, e); err != nil {
			return err
		}
	}
	return nil
}

func (l *PostgresLog) ReplayByKey(ctx context.Context, k string, visit Visitor) error {
	var rows []eventRow
	query := fmt.Sprintf(`SELECT sequence, key, payload FROM %s WHERE key = $1 ORDER BY sequence ASC`, l.table)
	if err := l.db.SelectContext(ctx, &rows, query, k); err != nil {
		return fmt.Errorf("eventlog: replay by key: %w", err)
	}
	for _, r := range rows {
		e, err := event.Unmarshal(r.Payload)
		if err != nil {
			return err
		}
		if err := visit(SeqKey{Sequence: r.Sequence, Key: r.Key}, e); err != nil {
			return err
		}
	}
	return nil
}

func (l *PostgresLog) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, l.table)
	if err := l.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("eventlog: count: %w", err)
	}
	return n, nil
}

func (l *PostgresLog) CountByKey(ctx context.Context, k string) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE key = $1`, l.table)
	if err := l.db.GetContext(ctx, &n, query, k); err != nil {
		return 0, fmt.Errorf("eventlog: count by key: %w", err)
	}
	return n, nil
}

func (l *PostgresLog) LatestSequence(ctx context.Context) (int64, bool, error) {
	var seq sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(sequence) FROM %s`, l.table)
	if err := l.db.GetContext(ctx, &seq, query); err != nil {
		return 0, false, fmt.Errorf("eventlog: latest sequence: %w", err)
	}
	return seq.Int64, seq.Valid, nil
}

func (l *PostgresLog) LatestSequenceByKey(ctx context.Context, k string) (int64, bool, error) {
	var seq sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(sequence) FROM %s WHERE key = $1`, l.table)
	if err := l.db.GetContext(ctx, &seq, query, k); err != nil {
		return 0, false, fmt.Errorf("eventlog: latest sequence by key: %w", err)
	}
	return seq.Int64, seq.Valid, nil
}

func decodeRows(rows []eventRow) ([]*event.Event, error) {
	out := make([]*event.Event, 0, len(rows))
	for _, r := range rows {
		e, err := event.Unmarshal(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

var _ Log = (*PostgresLog)(nil)
