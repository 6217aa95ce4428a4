package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotObtained = errors.New("lock not obtained")

const lockPollInterval = 250 * time.Millisecond

// RedisLocker hands out short-lived locks keyed by customer. Lock waits up
// to wait for a held lock before giving up.
type RedisLocker struct {
	rdb    *redis.Client
	locker *redislock.Client
	wait   time.Duration
}

func NewRedisLocker(ctx context.Context, redisURL string, wait time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisLocker{rdb: rdb, locker: redislock.New(rdb), wait: wait}, nil
}

// Lock obtains key for ttl, polling while another holder has it. It returns
// ErrLockNotObtained once the wait is used up. The returned func releases
// the lock.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, "lock:"+key, ttl, &redislock.Options{RetryStrategy: retryStrategy(l.wait)})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

func retryStrategy(wait time.Duration) redislock.RetryStrategy {
	attempts := int(wait / lockPollInterval)
	if attempts <= 0 {
		return redislock.NoRetry()
	}
	return redislock.LimitRetry(redislock.LinearBackoff(lockPollInterval), attempts)
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
