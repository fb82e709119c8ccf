package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards the session store's Redis client. Only the commands
// the session store uses are exposed.
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
}

// NewRedisWrapper wraps client with a breaker named "redis".
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     New("redis", DefaultConfig(), logger),
	}
}

// Get returns the value for key, redis.Nil when absent. A miss does not
// count against the breaker.
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var missErr error
	err := rw.cb.Execute(func() error {
		var cmdErr error
		data, cmdErr = rw.client.Get(ctx, key).Bytes()
		if cmdErr == redis.Nil {
			missErr = redis.Nil
			return nil
		}
		return cmdErr
	})
	if err != nil {
		return nil, err
	}
	if missErr != nil {
		return nil, missErr
	}
	return data, nil
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rw.cb.Execute(func() error {
		return rw.client.Set(ctx, key, value, ttl).Err()
	})
}

func (rw *RedisWrapper) Del(ctx context.Context, key string) error {
	return rw.cb.Execute(func() error {
		return rw.client.Del(ctx, key).Err()
	})
}

func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rw.cb.Execute(func() error {
		return rw.client.Expire(ctx, key, ttl).Err()
	})
}

func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.cb.Execute(func() error {
		return rw.client.Ping(ctx).Err()
	})
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }
