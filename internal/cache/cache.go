package cache

import (
	"context"
	"time"

	"kasirinaja/dinein/internal/domain"
)

// SettlementCache remembers settlement answers for invoices that the
// external provider already reported as paid.
type SettlementCache interface {
	Get(ctx context.Context, invoiceID string) (*domain.SettlementStatus, bool, error)
	Set(ctx context.Context, invoiceID string, value *domain.SettlementStatus, ttl time.Duration) error
}

type NoopSettlementCache struct{}

func (NoopSettlementCache) Get(_ context.Context, _ string) (*domain.SettlementStatus, bool, error) {
	return nil, false, nil
}

func (NoopSettlementCache) Set(_ context.Context, _ string, _ *domain.SettlementStatus, _ time.Duration) error {
	return nil
}
