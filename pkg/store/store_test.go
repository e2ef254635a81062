package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

func sampleState(id string, status workflow.Status, updated time.Time) *workflow.RunState {
	return &workflow.RunState{
		RunID:      id,
		WorkflowID: "main-workflow",
		Status:     status,
		Frame:      &workflow.Frame{Workflow: "main-workflow", Child: &workflow.Frame{Workflow: "research-workflow", Cursor: 2}},
		Suspended: &workflow.Suspension{
			Path:    []string{"research-workflow", "approval"},
			Payload: []byte(`{"message":"Is this research sufficient? [y/n]"}`),
		},
		Steps:     []workflow.StepRecord{{Path: []string{"research-workflow", "get-user-query"}, Status: workflow.StatusSuccess}},
		CreatedAt: updated.Add(-time.Minute),
		UpdatedAt: updated,
	}
}

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.Load(ctx, "missing")
	require.ErrorIs(t, err, workflow.ErrRunNotFound)

	first := sampleState("run-1", workflow.StatusSuspended, now)
	require.NoError(t, s.Save(ctx, first))

	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspended, loaded.Status)
	assert.Equal(t, []string{"research-workflow", "approval"}, loaded.Suspended.Path)
	assert.Equal(t, 2, loaded.Frame.Child.Cursor)
	assert.JSONEq(t, string(first.Suspended.Payload), string(loaded.Suspended.Payload))

	// Upsert.
	first.Status = workflow.StatusSuccess
	first.Suspended = nil
	first.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.Save(ctx, first))
	loaded, err = s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, loaded.Status)
	assert.Nil(t, loaded.Suspended)

	require.NoError(t, s.Save(ctx, sampleState("run-2", workflow.StatusSuspended, now)))
	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, workflow.StatusSuccess, runs[0].Status)
	assert.Equal(t, "run-2", runs[1].RunID)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	n, err := s.Purge(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleState("run-1", workflow.StatusSuspended, time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspended, loaded.Status)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, time.Hour)
	defer s.Close()

	exerciseStore(t, s)

	assert.True(t, mr.Exists(redisKeyPrefix+"run-1"))
	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"run-1"))
}

func TestRedisStore_ExpiredRunsDropOut(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState("old", workflow.StatusSuspended, time.Now())))
	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "old")
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenRedis_Unreachable(t *testing.T) {
	_, err := OpenRedis(context.Background(), "127.0.0.1:1", "", time.Hour)
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.NewPostgresDB(ctx, url)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(ctx))
	_, err = db.Pool.Exec(ctx, "DELETE FROM workflow_runs WHERE run_id IN ('run-1', 'run-2')")
	require.NoError(t, err)

	s := NewPostgresStore(db, true)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "etcd"})
	assert.ErrorContains(t, err, "unknown store backend")

	_, err = Open(context.Background(), Options{Backend: BackendPostgres})
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	s, err := Open(context.Background(), Options{SQLitePath: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
}
