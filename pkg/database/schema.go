package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InitSchema creates the tables for workflow runs and their logs.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Workflow Runs Table
	runsQuery := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			state JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, runsQuery); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	// 2. Workflow Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS workflow_logs (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES workflow_runs(run_id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create workflow_logs table: %w", err)
	}

	// Indexes for faster querying
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_workflow_logs_run_id ON workflow_logs(run_id)"); err != nil {
		return fmt.Errorf("failed to create index on workflow_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_workflow_runs_updated_at ON workflow_runs(updated_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on workflow_runs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status)"); err != nil {
		return fmt.Errorf("failed to create index on workflow_runs: %w", err)
	}

	return nil
}

// LogEntry is one persisted run log line.
type LogEntry struct {
	ID        int            `json:"id"`
	RunID     string         `json:"runId"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RunLogs returns the logs of a run in insertion order.
func (db *PostgresDB) RunLogs(ctx context.Context, runID string) ([]LogEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, run_id, timestamp, level, message, metadata
		FROM workflow_logs WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// InsertLog appends a log line to a run.
func (db *PostgresDB) InsertLog(ctx context.Context, e LogEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO workflow_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)`, e.RunID, e.Timestamp, e.Level, e.Message, meta)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}
