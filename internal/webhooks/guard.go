package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type guardStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	WebhookEventKey(provider, eventID string) string
}

// Guard short-circuits re-deliveries of a provider event id. It only saves
// work: the reconciler stays idempotent when Redis is unavailable. An event is
// marked only after it has been applied, so a delivery that dies mid-flight
// is never mistaken for a handled one.
type Guard struct {
	store guardStore
	ttl   time.Duration
}

func NewGuard(store guardStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Seen reports whether the event was already applied.
func (g *Guard) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	seen, err := g.store.Exists(ctx, g.store.WebhookEventKey(provider, eventID))
	if err != nil {
		return false, fmt.Errorf("read webhook guard key: %w", err)
	}
	return seen, nil
}

// Mark records a committed event.
func (g *Guard) Mark(ctx context.Context, provider, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := g.store.Set(ctx, g.store.WebhookEventKey(provider, eventID), "1", g.ttl); err != nil {
		return fmt.Errorf("set webhook guard key: %w", err)
	}
	return nil
}
