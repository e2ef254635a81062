package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB holds the pool shared by the run store, run logs and the archive.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB connects to databaseURL and pings it. Pool limits given as
// pool_max_conns / pool_min_conns in the URL win over the defaults.
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if !hasParam(config.ConnString(), "pool_max_conns") {
		config.MaxConns = 10
	}
	if !hasParam(config.ConnString(), "pool_min_conns") {
		config.MinConns = 1
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresDB{Pool: pool}, nil
}

func hasParam(connString, name string) bool {
	return strings.Contains(connString, name+"=")
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// Ping reports whether the database is reachable.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// EnsureVectorExtension installs pgvector.
func (db *PostgresDB) EnsureVectorExtension(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EnsureArchiveCollection creates the table holding archived reports and
// learnings, with a vector index and a metadata index for topic lookups.
func (db *PostgresDB) EnsureArchiveCollection(ctx context.Context, name string, dimension int) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid collection name: %s", name)
	}
	stmts := []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`, name, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_metadata_idx ON %[1]s USING gin (metadata)`, name),
	}
	// hnsw is limited to 2000 dimensions; wider vectors fall back to exact search.
	if dimension <= 2000 {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops)`, name))
	}

	for _, stmt := range stmts {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare collection %s: %w", name, err)
		}
	}
	return nil
}
