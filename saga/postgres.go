package saga

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresInstanceStore persists Saga Instances to a shared `SagaInstances`
// table, reachable by every engine replica — the same distributed store
// backing outbox/bus per spec §5's shared-resource policy.
type PostgresInstanceStore struct {
	db    *sqlx.DB
	table string
}

// NewPostgresInstanceStore constructs a PostgresInstanceStore against table,
// which must already exist.
func NewPostgresInstanceStore(db *sqlx.DB, table string) *PostgresInstanceStore {
	return &PostgresInstanceStore{db: db, table: table}
}

type instanceRow struct {
	SagaID         string `db:"saga_id"`
	DefinitionName string `db:"definition_name"`
	Status         string `db:"status"`
	State          []byte `db:"state"`
}

func (s *PostgresInstanceStore) Save(ctx context.Context, inst *Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("saga: marshal instance: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (saga_id, definition_name, status, state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (saga_id) DO UPDATE SET status = EXCLUDED.status, state = EXCLUDED.state`, s.table)
	_, err = s.db.ExecContext(ctx, query, inst.SagaID, inst.DefinitionName, string(inst.Status), data)
	if err != nil {
		return fmt.Errorf("saga: save instance: %w", err)
	}
	return nil
}

func (s *PostgresInstanceStore) Get(ctx context.Context, sagaID string) (*Instance, bool, error) {
	var row instanceRow
	query := fmt.Sprintf(`SELECT saga_id, definition_name, status, state FROM %s WHERE saga_id = $1`, s.table)
	err := s.db.GetContext(ctx, &row, query, sagaID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("saga: get instance: %w", err)
	}
	var inst Instance
	if err := json.Unmarshal(row.State, &inst); err != nil {
		return nil, false, fmt.Errorf("saga: decode instance: %w", err)
	}
	return &inst, true, nil
}

var _ InstanceStore = (*PostgresInstanceStore)(nil)
