package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mikeboe/deep-research/pkg/workflow"
)

const (
	redisKeyPrefix = "deep-research:run:"
	redisIndexKey  = "deep-research:runs"
)

// RedisStore keeps run states as JSON strings that expire after ttl of
// inactivity. A sorted set indexes runs by last update.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// NewRedisStore wraps an existing client. ttl <= 0 means keys never expire.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, state *workflow.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	summary, err := json.Marshal(RunSummary{
		RunID:      state.RunID,
		WorkflowID: state.WorkflowID,
		Status:     state.Status,
		CreatedAt:  state.CreatedAt,
		UpdatedAt:  state.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}

	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+state.RunID, data, ttl)
	pipe.HSet(ctx, redisIndexKey+":summary", state.RunID, summary)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(state.UpdatedAt.UnixNano()), Member: state.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.RunID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, runID string) (*workflow.RunState, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return decodeState(data)
}

// List returns the most recently updated runs whose state has not expired.
func (s *RedisStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := []RunSummary{}
	if len(ids) == 0 {
		return runs, nil
	}

	vals, err := s.client.HMGet(ctx, redisIndexKey+":summary", ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load run summaries: %w", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		exists, err := s.client.Exists(ctx, redisKeyPrefix+ids[i]).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check run %s: %w", ids[i], err)
		}
		if exists == 0 {
			s.client.ZRem(ctx, redisIndexKey, ids[i])
			s.client.HDel(ctx, redisIndexKey+":summary", ids[i])
			continue
		}
		var r RunSummary
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		runs = append(runs, r)
	}
	return runs, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
