package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 25 * time.Hour

// LeaseStore is the subset of Client used by Lease.
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// ownerReleaser is implemented by stores that can compare-and-delete atomically.
type ownerReleaser interface {
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
}

// Lease is an owner-tagged SETNX lock. A Lease value is not safe for concurrent use;
// create one per holder.
type Lease struct {
	store LeaseStore
	key   string
	ttl   time.Duration
	owner string
}

// NewLease constructs a lease on key that expires after ttl unless released.
func NewLease(store LeaseStore, key string, ttl time.Duration) (*Lease, error) {
	if store == nil {
		return nil, errors.New("redis store required for lease")
	}
	if key == "" {
		return nil, errors.New("lease key is required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &Lease{store: store, key: key, ttl: ttl}, nil
}

func (l *Lease) Key() string {
	return l.key
}

// Acquire tries to own the lease for the configured TTL.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lease only if the owner value still matches.
func (l *Lease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if releaser, ok := l.store.(ownerReleaser); ok {
		_, err := releaser.ReleaseIfOwner(ctx, l.key, l.owner)
		if err != nil {
			return fmt.Errorf("release lease: %w", err)
		}
		l.owner = ""
		return nil
	}
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, Nil) {
			l.owner = ""
			return nil
		}
		return fmt.Errorf("read lease owner: %w", err)
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	l.owner = ""
	return nil
}
