package cache

import (
	"context"
	"time"

	"nexora/backend/internal/domain"
)

// RateCache stores the most recently fetched USD/ILS quote so the Bank of
// Israel feed is hit at most about once per TTL across all processes.
type RateCache interface {
	Get(ctx context.Context, key string) (*domain.RateResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.RateResponse, ttl time.Duration) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ string) (*domain.RateResponse, bool, error) {
	return nil, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ string, _ *domain.RateResponse, _ time.Duration) error {
	return nil
}
