package cron

import (
	"context"
	"time"

	"github.com/angelmondragon/paylifecycle/pkg/redis"
)

const defaultLockTTL = 5 * time.Minute

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock implements Lock with an owner-tagged Redis lease.
type RedisLock struct {
	lease *redis.Lease
}

// NewRedisLock constructs a lock on key. A non-positive ttl falls back to five minutes.
func NewRedisLock(store redis.LeaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lease, err := redis.NewLease(store, key, ttl)
	if err != nil {
		return nil, err
	}
	return &RedisLock{lease: lease}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	return l.lease.Acquire(ctx)
}

func (l *RedisLock) Release(ctx context.Context) error {
	return l.lease.Release(ctx)
}
