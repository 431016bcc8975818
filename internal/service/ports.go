package service

import (
	"context"
	"time"

	"marketplace-service/internal/models"
)

// AvailabilityCache holds recent availability snapshots. It is advisory:
// cart and checkout decisions always read the repository.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, productID int64) (*models.Availability, error)
	SetAvailability(ctx context.Context, a models.Availability) (bool, error)
	EvictAvailability(ctx context.Context, productID int64, version int64) error
}

// IdempotencyStore remembers checkout results by client supplied key and
// guards a key while its checkout is running
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) ([]byte, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// AcquireLock returns a token naming this holder; acquired is false while
	// another holder owns the lock.
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, acquired bool, err error)
	// ReleaseLock frees the lock only if token still holds it.
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// EventPublisher announces committed catalog and checkout changes
type EventPublisher interface {
	PublishProductChanged(ctx context.Context, eventType string, p *models.Product) error
	PublishProductDeleted(ctx context.Context, p *models.Product) error
	PublishProductSoldOut(ctx context.Context, checkoutID string, item models.CheckoutItem) error
	PublishCheckoutCompleted(ctx context.Context, result *models.CheckoutResult) error
}

type noopCache struct{}

func (noopCache) GetAvailability(context.Context, int64) (*models.Availability, error) {
	return nil, nil
}

func (noopCache) SetAvailability(context.Context, models.Availability) (bool, error) {
	return false, nil
}

func (noopCache) EvictAvailability(context.Context, int64, int64) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishProductChanged(context.Context, string, *models.Product) error {
	return nil
}

func (noopPublisher) PublishProductDeleted(context.Context, *models.Product) error { return nil }

func (noopPublisher) PublishProductSoldOut(context.Context, string, models.CheckoutItem) error {
	return nil
}

func (noopPublisher) PublishCheckoutCompleted(context.Context, *models.CheckoutResult) error {
	return nil
}
