package gatewaywebhook

import (
	"context"
	"errors"

	"github.com/angelmondragon/paylifecycle/pkg/idempotency"
)

// IdempotencyGuard remembers delivered event ids for one webhook consumer.
type IdempotencyGuard struct {
	manager  *idempotency.Manager
	consumer string
}

func NewIdempotencyGuard(manager *idempotency.Manager, consumer string) (*IdempotencyGuard, error) {
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if consumer == "" {
		return nil, errors.New("consumer is required")
	}
	return &IdempotencyGuard{manager: manager, consumer: consumer}, nil
}

// Mark claims eventID; a Duplicate receipt means the event was already applied.
func (g *IdempotencyGuard) Mark(ctx context.Context, eventID string) (idempotency.Receipt, error) {
	return g.manager.Mark(ctx, g.consumer, eventID)
}

// Forget releases eventID after a failed apply so the sender's retry is processed.
func (g *IdempotencyGuard) Forget(ctx context.Context, eventID string) error {
	return g.manager.Forget(ctx, g.consumer, eventID)
}
