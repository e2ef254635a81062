package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

// PostgresStore keeps runs in the workflow_runs table as JSONB.
type PostgresStore struct {
	db     *database.PostgresDB
	ownsDB bool
}

// NewPostgresStore uses db, whose schema must already be initialized. With
// owns set, Close also closes the pool.
func NewPostgresStore(db *database.PostgresDB, owns bool) *PostgresStore {
	return &PostgresStore{db: db, ownsDB: owns}
}

func (s *PostgresStore) Save(ctx context.Context, state *workflow.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	query := `
		INSERT INTO workflow_runs (run_id, workflow_id, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.Pool.Exec(ctx, query,
		state.RunID, state.WorkflowID, string(state.Status), data, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.RunID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, runID string) (*workflow.RunState, error) {
	var data []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT state FROM workflow_runs WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return decodeState(data)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT run_id, workflow_id, status, created_at, updated_at
		FROM workflow_runs ORDER BY updated_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var status string
		if err := rows.Scan(&r.RunID, &r.WorkflowID, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = workflow.Status(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		s.db.Close()
	}
	return nil
}

// DB exposes the pool so run logs can share it.
func (s *PostgresStore) DB() *database.PostgresDB { return s.db }
