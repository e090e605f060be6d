package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps the subset of Redis commands the orchestrator uses with
// a shared circuit breaker. redis.Nil is a miss, not a failure.
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with a circuit breaker.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     New("redis", DefaultConfig(), logger),
		logger: logger,
	}
}

// IsOpen reports whether the breaker currently rejects requests.
func (rw *RedisWrapper) IsOpen() bool { return rw.cb.State() == StateOpen }

// Client exposes the underlying client for health checks.
func (rw *RedisWrapper) Client() *redis.Client { return rw.client }

func (rw *RedisWrapper) exec(ctx context.Context, run func() error) error {
	return rw.cb.Execute(ctx, func() error {
		err := run()
		if err == redis.Nil {
			return nil
		}
		return err
	})
}

// Ping wraps Redis PING.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	}); err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis GET.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.Get(ctx, key)
		return result.Err()
	}); err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis SET.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.Set(ctx, key, value, ttl)
		return result.Err()
	}); err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps Redis DEL.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	}); err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LPush wraps Redis LPUSH.
func (rw *RedisWrapper) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.LPush(ctx, key, values...)
		return result.Err()
	}); err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LRem wraps Redis LREM.
func (rw *RedisWrapper) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.LRem(ctx, key, count, value)
		return result.Err()
	}); err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LLen wraps Redis LLEN.
func (rw *RedisWrapper) LLen(ctx context.Context, key string) *redis.IntCmd {
	var result *redis.IntCmd
	if err := rw.exec(ctx, func() error {
		result = rw.client.LLen(ctx, key)
		return result.Err()
	}); err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}
