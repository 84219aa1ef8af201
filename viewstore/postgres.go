package viewstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/eventcore/event"
	"github.com/r3e-network/eventcore/eventlog"
)

// PostgresStore is a Store backend over a `<domain>_VIEW` table. ExecuteOnKey
// uses `SELECT ... FOR UPDATE` inside a transaction so the engine's
// same-key-serialized guarantee holds across replicas, not just within one
// process.
type PostgresStore struct {
	db    *sqlx.DB
	table string
}

// NewPostgresStore constructs a PostgresStore against the given table.
func NewPostgresStore(db *sqlx.DB, table string) *PostgresStore {
	return &PostgresStore{db: db, table: table}
}

type viewRow struct {
	Key   string `db:"key"`
	State []byte `db:"state"`
}

func (s *PostgresStore) Get(ctx context.Context, k string) (any, bool, error) {
	var row viewRow
	query := fmt.Sprintf(`SELECT key, state FROM %s WHERE key = $1`, s.table)
	err := s.db.GetContext(ctx, &row, query, k)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("viewstore: get: %w", err)
	}
	var state any
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, false, fmt.Errorf("viewstore: decode state: %w", err)
	}
	return state, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, k string, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("viewstore: encode state: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (key, state) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state`, s.table)
	_, err = s.db.ExecContext(ctx, query, k, data)
	if err != nil {
		return fmt.Errorf("viewstore: put: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, k string) (any, bool, error) {
	prior, ok, err := s.Get(ctx, k)
	if err != nil || !ok {
		return nil, ok, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, k); err != nil {
		return nil, false, fmt.Errorf("viewstore: remove: %w", err)
	}
	return prior, true, nil
}

func (s *PostgresStore) ContainsKey(ctx context.Context, k string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)`, s.table)
	if err := s.db.GetContext(ctx, &exists, query, k); err != nil {
		return false, fmt.Errorf("viewstore: contains key: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	query := fmt.Sprintf(`SELECT key FROM %s`, s.table)
	if err := s.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("viewstore: keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) Values(ctx context.Context) ([]any, error) {
	var rows []viewRow
	query := fmt.Sprintf(`SELECT key, state FROM %s`, s.table)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("viewstore: values: %w", err)
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		var state any
		if err := json.Unmarshal(r.State, &state); err != nil {
			return nil, fmt.Errorf("viewstore: decode state: %w", err)
		}
		out = append(out, state)
	}
	return out, nil
}

func (s *PostgresStore) Size(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("viewstore: size: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`TRUNCATE TABLE %s`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("viewstore: clear: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, pred Predicate) (map[string]any, error) {
	var rows []viewRow
	query := fmt.Sprintf(`SELECT key, state FROM %s`, s.table)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("viewstore: query: %w", err)
	}
	out := make(map[string]any)
	for _, r := range rows {
		var state any
		if err := json.Unmarshal(r.State, &state); err != nil {
			return nil, fmt.Errorf("viewstore: decode state: %w", err)
		}
		if pred(r.Key, state) {
			out[r.Key] = state
		}
	}
	return out, nil
}

func (s *PostgresStore) ExecuteOnKey(ctx context.Context, k string, mutate Mutator) (any, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("viewstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var row viewRow
	selectQuery := fmt.Sprintf(`SELECT key, state FROM %s WHERE key = $1 FOR UPDATE`, s.table)
	err = tx.GetContext(ctx, &row, selectQuery, k)

	var current any
	if err == nil {
		if jerr := json.Unmarshal(row.State, &current); jerr != nil {
			return nil, fmt.Errorf("viewstore: decode state: %w", jerr)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("viewstore: select for update: %w", err)
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	if next == nil {
		deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
		if _, err := tx.ExecContext(ctx, deleteQuery, k); err != nil {
			return nil, fmt.Errorf("viewstore: delete on key: %w", err)
		}
	} else {
		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("viewstore: encode state: %w", err)
		}
		upsertQuery := fmt.Sprintf(
			`INSERT INTO %s (key, state) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state`, s.table)
		if _, err := tx.ExecContext(ctx, upsertQuery, k, data); err != nil {
			return nil, fmt.Errorf("viewstore: upsert on key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("viewstore: commit: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) Rebuild(ctx context.Context, log eventlog.Log, project Projector) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}
	return log.ReplayAll(ctx, func(sk eventlog.SeqKey, e *event.Event) error {
		_, err := s.ExecuteOnKey(ctx, sk.Key, func(current any) (any, error) {
			return project(current, e)
		})
		return err
	})
}

var _ Store = (*PostgresStore)(nil)
