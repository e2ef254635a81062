package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mikeboe/deep-research/pkg/workflow"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	run_id      TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_updated_at ON workflow_runs(updated_at DESC);
`

// SQLiteStore keeps runs in a local SQLite file, so a CLI run can be
// resumed by a later invocation.
type SQLiteStore struct {
	db *sqlx.DB
}

type runRow struct {
	RunSummary
	State string `db:"state"`
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ".research/runs.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *workflow.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	row := runRow{
		RunSummary: RunSummary{
			RunID:      state.RunID,
			WorkflowID: state.WorkflowID,
			Status:     state.Status,
			CreatedAt:  state.CreatedAt.UTC(),
			UpdatedAt:  state.UpdatedAt.UTC(),
		},
		State: string(data),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO workflow_runs (run_id, workflow_id, status, state, created_at, updated_at)
		VALUES (:run_id, :workflow_id, :status, :state, :created_at, :updated_at)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (*workflow.RunState, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT state FROM workflow_runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return decodeState([]byte(data))
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	runs := []RunSummary{}
	err := s.db.SelectContext(ctx, &runs, `
		SELECT run_id, workflow_id, status, created_at, updated_at
		FROM workflow_runs ORDER BY updated_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Purge deletes terminal runs last updated before cutoff.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_runs WHERE status IN (?, ?) AND updated_at < ?`,
		workflow.StatusSuccess, workflow.StatusFailed, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeState(data []byte) (*workflow.RunState, error) {
	var state workflow.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	return &state, nil
}
