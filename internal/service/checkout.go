package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutService turns a user's cart into purchase records and inventory
// decrements as one unit of work
type CheckoutService struct {
	store          store.Repository
	idempotency    IdempotencyStore
	cache          AvailabilityCache
	eventPublisher EventPublisher
	idempotencyTTL time.Duration
	lockTTL        time.Duration
	logger         *zap.Logger
}

// CheckoutConfig holds the TTLs of idempotency keys and checkout locks
type CheckoutConfig struct {
	IdempotencyTTL time.Duration
	LockTTL        time.Duration
}

// NewCheckoutService creates a new checkout service. idempotency, cache and
// eventPublisher may be nil; without an idempotency store the
// Idempotency-Key of a request is ignored.
func NewCheckoutService(
	store store.Repository,
	idempotency IdempotencyStore,
	cache AvailabilityCache,
	eventPublisher EventPublisher,
	cfg CheckoutConfig,
) *CheckoutService {
	if cache == nil {
		cache = noopCache{}
	}
	if eventPublisher == nil {
		eventPublisher = noopPublisher{}
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &CheckoutService{
		store:          store,
		idempotency:    idempotency,
		cache:          cache,
		eventPublisher: eventPublisher,
		idempotencyTTL: cfg.IdempotencyTTL,
		lockTTL:        cfg.LockTTL,
		logger:         util.GetLogger(),
	}
}

// CheckoutRequest represents a checkout of the user's whole cart
type CheckoutRequest struct {
	UserID         int64
	IdempotencyKey string
}

// Checkout commits the user's cart. Either every line is decremented and
// recorded, or the call fails and nothing changes.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*models.CheckoutResult, error) {
	start := time.Now()
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout",
		attribute.Int64("user_id", req.UserID),
		attribute.String("idempotency_key", req.IdempotencyKey))
	var err error
	defer func() {
		util.EndSpan(span, err)
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
		util.CheckoutsTotal.WithLabelValues(checkoutOutcome(err)).Inc()
	}()

	if req.IdempotencyKey == "" || s.idempotency == nil {
		var result *models.CheckoutResult
		result, err = s.checkout(ctx, req.UserID)
		return result, err
	}

	key := fmt.Sprintf("checkout:%d:%s", req.UserID, req.IdempotencyKey)
	if cached, ok := s.storedResult(ctx, key); ok {
		s.logger.Info("Returning stored checkout result",
			zap.Int64("user_id", req.UserID),
			zap.String("checkout_id", cached.CheckoutID))
		return cached, nil
	}

	token, acquired, err := s.idempotency.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		err = fmt.Errorf("%w: checkout lock: %v", models.ErrUnavailable, err)
		return nil, err
	}
	if !acquired {
		err = models.ErrCheckoutBusy
		return nil, err
	}
	defer func() {
		if relErr := s.idempotency.ReleaseLock(context.Background(), key, token); relErr != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("key", key), zap.Error(relErr))
		}
	}()

	// a request holding the lock before us may have finished meanwhile
	if cached, ok := s.storedResult(ctx, key); ok {
		return cached, nil
	}

	var result *models.CheckoutResult
	result, err = s.checkout(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if data, mErr := json.Marshal(result); mErr == nil {
		if setErr := s.idempotency.SetIdempotencyKey(ctx, key, data, s.idempotencyTTL); setErr != nil {
			s.logger.Warn("Failed to store checkout result", zap.String("key", key), zap.Error(setErr))
		}
	}
	return result, nil
}

func (s *CheckoutService) storedResult(ctx context.Context, key string) (*models.CheckoutResult, bool) {
	data, found, err := s.idempotency.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read idempotency key", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	var result models.CheckoutResult
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger.Warn("Discarding unreadable checkout result", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (s *CheckoutService) checkout(ctx context.Context, userID int64) (*models.CheckoutResult, error) {
	result := &models.CheckoutResult{
		CheckoutID: uuid.New().String(),
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		lines, err := tx.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return models.ErrEmptyCart
		}

		// validation pass: reject the whole cart before touching any stock
		for _, line := range lines {
			if line.Quantity > line.Product.Quantity {
				util.StockConflictsTotal.WithLabelValues("validation").Inc()
				return stockError(&line.Product, line.Quantity)
			}
		}

		// commit pass: each decrement re-checks the stock it consumes. Rows are
		// locked in product id order so concurrent checkouts cannot deadlock.
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
		var records []models.PurchaseRecord
		for _, line := range lines {
			product, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				if errors.Is(err, models.ErrInsufficientStock) {
					util.StockConflictsTotal.WithLabelValues("commit").Inc()
				}
				return err
			}

			result.Items = append(result.Items, models.CheckoutItem{
				ProductID:  product.ID,
				OwnerID:    product.OwnerID,
				Quantity:   line.Quantity,
				PriceCents: product.PriceCents,
				Remaining:  product.Quantity,
				IsSold:     product.IsSold,
				Version:    product.UpdatedAt.UnixMicro(),
			})
			result.Units += line.Quantity
			result.TotalCents += product.PriceCents * int64(line.Quantity)

			for i := 0; i < line.Quantity; i++ {
				records = append(records, models.PurchaseRecord{
					UserID:     userID,
					ProductID:  product.ID,
					CheckoutID: result.CheckoutID,
				})
			}
		}

		if err := tx.InsertPurchases(ctx, records); err != nil {
			return err
		}
		return tx.ClearCart(ctx, userID)
	})
	if err != nil {
		s.logger.Info("Checkout rejected", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	util.PurchasedUnitsTotal.Add(float64(result.Units))
	s.logger.Info("Checkout completed",
		zap.String("checkout_id", result.CheckoutID),
		zap.Int64("user_id", userID),
		zap.Int("units", result.Units),
		zap.Int64("total_cents", result.TotalCents))

	s.announce(ctx, result)
	return result, nil
}

// announce refreshes cached availability and publishes the committed checkout
func (s *CheckoutService) announce(ctx context.Context, result *models.CheckoutResult) {
	for _, item := range result.Items {
		a := models.Availability{
			ProductID: item.ProductID,
			Quantity:  item.Remaining,
			IsSold:    item.IsSold,
			Version:   item.Version,
		}
		if _, err := s.cache.SetAvailability(ctx, a); err != nil {
			s.logger.Warn("Failed to cache availability", zap.Int64("product_id", item.ProductID), zap.Error(err))
		}

		if item.IsSold {
			util.ProductsSoldOutTotal.Inc()
			if err := s.eventPublisher.PublishProductSoldOut(ctx, result.CheckoutID, item); err != nil {
				s.logger.Error("Failed to publish ProductSoldOut event", zap.Int64("product_id", item.ProductID), zap.Error(err))
			}
		}
	}

	if err := s.eventPublisher.PublishCheckoutCompleted(ctx, result); err != nil {
		s.logger.Error("Failed to publish CheckoutCompleted event",
			zap.String("checkout_id", result.CheckoutID),
			zap.Error(err))
	}
}

// ListPurchases returns the user's purchase records, newest first
func (s *CheckoutService) ListPurchases(ctx context.Context, userID int64) ([]models.PurchaseRecord, error) {
	return s.store.ListPurchases(ctx, userID)
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrCheckoutBusy):
		return "busy"
	default:
		return "failed"
	}
}
