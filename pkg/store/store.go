// Package store provides durable backends for workflow run state.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

// RunSummary is one row of a run listing.
type RunSummary struct {
	RunID      string          `json:"runId" db:"run_id"`
	WorkflowID string          `json:"workflowId" db:"workflow_id"`
	Status     workflow.Status `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time       `json:"updatedAt" db:"updated_at"`
}

// Store is a workflow.Store that can also list runs.
type Store interface {
	workflow.Store
	List(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options select and configure a backend.
type Options struct {
	Backend       string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	TTL           time.Duration
}

// Open connects the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return OpenSQLite(opts.SQLitePath)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres store requires DATABASE_URL")
		}
		db, err := database.NewPostgresDB(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return NewPostgresStore(db, true), nil
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.TTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
