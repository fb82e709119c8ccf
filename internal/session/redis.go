package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/metrics"
)

// RedisStore persists state in a shared Redis, keyed session:<id>.
type RedisStore struct {
	rdb    *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to addr and verifies connectivity.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	wrapped := circuitbreaker.NewRedisWrapper(client, logger)
	if err := wrapped.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{rdb: wrapped, ttl: ttl, logger: logger}, nil
}

func key(id string) string { return "session:" + id }

func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	data, err := s.rdb.Get(ctx, key(id))
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("Dropping undecodable session state", zap.String("session_id", id), zap.Error(err))
		_ = s.rdb.Del(ctx, key(id))
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	existing, getErr := s.rdb.Get(ctx, key(state.ID))
	if err := s.rdb.Set(ctx, key(state.ID), data, s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if errors.Is(getErr, redis.Nil) || len(existing) == 0 {
		metrics.SessionsCreated.Inc()
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, key(id))
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	return s.rdb.Expire(ctx, key(id), s.ttl)
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.rdb.Close() }
