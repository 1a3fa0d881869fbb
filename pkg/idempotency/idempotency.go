package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/redis"
)

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrEventIDRequired  = errors.New("event id is required")
)

// Receipt is the outcome of marking an event.
type Receipt struct {
	Duplicate bool
	// FirstSeen is when the first delivery was marked. Zero if unknown.
	FirstSeen time.Time
}

// Manager records delivered event ids per consumer so redeliveries are
// acknowledged without being applied twice. Entries live for ttl; a zero ttl
// keeps them until forgotten.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	clock clock.Clock
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	m := &Manager{store: store, ttl: ttl, clock: clock.Real{}}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mark claims eventID for consumer. The first caller gets a fresh receipt;
// later callers get Duplicate along with the first delivery's timestamp.
func (m *Manager) Mark(ctx context.Context, consumer, eventID string) (Receipt, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return Receipt{}, err
	}
	now := m.clock.Now().UTC()
	claimed, err := m.store.SetNX(ctx, key, now.Format(time.RFC3339Nano), m.ttl)
	if err != nil {
		return Receipt{}, fmt.Errorf("claim %s: %w", key, err)
	}
	if claimed {
		return Receipt{FirstSeen: now}, nil
	}

	receipt := Receipt{Duplicate: true}
	// the timestamp is informational; a failed read still reports the duplicate
	if raw, err := m.store.Get(ctx, key); err == nil {
		if seen, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			receipt.FirstSeen = seen
		}
	}
	return receipt, nil
}

// Forget drops the mark so a failed delivery can be applied on retry.
func (m *Manager) Forget(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer, eventID string) (string, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", ErrEventIDRequired
	}
	return m.store.IdempotencyKey("events:"+consumer, eventID), nil
}
