package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/redis"
)

// InflightGuard keeps two concurrent deliveries of the same event from
// dispatching at once. The webhook log remains the durable record.
type InflightGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewInflightGuard(store redis.IdempotencyStore, ttl time.Duration) (*InflightGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &InflightGuard{store: store, ttl: ttl, scope: "webhook"}, nil
}

// Acquire returns false when another delivery of the event holds the guard.
func (g *InflightGuard) Acquire(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(provider, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set inflight key: %w", err)
	}
	return set, nil
}

func (g *InflightGuard) Release(ctx context.Context, provider enums.PaymentProvider, eventID string) error {
	return g.store.Del(ctx, g.key(provider, eventID))
}

func (g *InflightGuard) key(provider enums.PaymentProvider, eventID string) string {
	return g.store.IdempotencyKey(g.scope, string(provider)+":"+eventID)
}
