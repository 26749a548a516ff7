package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper puts the session Redis behind a breaker. Cache misses
// (redis.Nil) do not count as failures.
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
}

// NewRedisWrapper wraps client. name labels the call site in metrics.
func NewRedisWrapper(client *redis.Client, name string, logger *zap.Logger) *RedisWrapper {
	cb := New(name, "redis", SettingsFor(KindRedis), logger).
		WithFailureClassifier(func(err error) bool {
			return defaultFailure(err) && !errors.Is(err, redis.Nil)
		})
	return &RedisWrapper{client: client, cb: cb}
}

func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.cb.Do(ctx, func(ctx context.Context) error {
		return rw.client.Ping(ctx).Err()
	})
}

// Get returns redis.Nil on a miss.
func (rw *RedisWrapper) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := rw.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		val, err = rw.client.Get(ctx, key).Result()
		return err
	})
	return val, err
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rw.cb.Do(ctx, func(ctx context.Context) error {
		return rw.client.Set(ctx, key, value, ttl).Err()
	})
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := rw.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = rw.client.Del(ctx, keys...).Result()
		return err
	})
	return n, err
}

func (rw *RedisWrapper) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := rw.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		d, err = rw.client.TTL(ctx, key).Result()
		return err
	})
	return d, err
}

func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// Client exposes the raw client for health checks.
func (rw *RedisWrapper) Client() *redis.Client {
	return rw.client
}

func (rw *RedisWrapper) Breaker() *Breaker {
	return rw.cb
}
