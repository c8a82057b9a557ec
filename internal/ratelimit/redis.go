package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

// RedisLimiter shares counters across nodes. Failure counters live
// under a window TTL; an active lockout is a keyed value whose TTL is
// the remaining lockout time.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
}

func NewRedisLimiter(client *redis.Client, policy Policy) *RedisLimiter {
	if policy.MaxAttempts < 1 {
		policy = DefaultPolicy()
	}
	return &RedisLimiter{client: client, policy: policy}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (Result, error) {
	ttl, err := l.client.TTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return Result{}, err
	}
	// TTL reports negative durations for missing or unexpiring keys.
	if ttl > 0 {
		return Result{
			Allowed:    false,
			RetryAfter: ttl,
			Message:    blockedMessage,
		}, nil
	}
	return Result{Allowed: true}, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) error {
	failKey := failKeyPrefix + key
	count, err := l.client.Incr(ctx, failKey).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, failKey, l.policy.Window).Err(); err != nil {
			return err
		}
	}
	if count >= int64(l.policy.MaxAttempts) {
		pipe := l.client.TxPipeline()
		pipe.Set(ctx, lockKeyPrefix+key, "1", l.policy.Lockout)
		pipe.Del(ctx, failKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *RedisLimiter) Clear(ctx context.Context, key string) error {
	return l.client.Del(ctx, failKeyPrefix+key, lockKeyPrefix+key).Err()
}

var _ Limiter = (*RedisLimiter)(nil)
