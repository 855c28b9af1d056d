package notify

import (
	"context"

	"nexora/backend/internal/domain"
)

// Notifier announces a newly created order to staff. Implementations are
// fire-and-forget: a failure is logged by the caller and never rolls back
// or delays order creation.
type Notifier interface {
	OrderCreated(ctx context.Context, order domain.Order) error
}

type Noop struct{}

func (Noop) OrderCreated(_ context.Context, _ domain.Order) error {
	return nil
}
