package cron

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/instance"
)

// DefaultLockKey is used when the worker is not given an env-scoped key.
const DefaultLockKey = "marketpay:cron:lock"

// defaultLockTTL outlives one full tick of jobs; a crashed holder frees the
// lock once it lapses.
const defaultLockTTL = 10 * time.Minute

type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a single-holder lease. The stored value names the instance
// that holds it, so GET on the key shows which replica is sweeping.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("cron: lock store required")
	}
	return &RedisLock{
		store: store,
		key:   cmp.Or(key, DefaultLockKey),
		ttl:   cmp.Or(max(ttl, 0), defaultLockTTL),
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := instance.ID() + "/" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("cron: acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release is a no-op unless this lock currently holds the lease.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.store.DeleteIfValue(ctx, l.key, token); err != nil {
		return fmt.Errorf("cron: release %s: %w", l.key, err)
	}
	return nil
}
