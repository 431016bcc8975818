package service

import (
	"context"
	"errors"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService manages per-user carts. Every stock check reads the
// repository, never the availability cache.
type CartService struct {
	store  store.Repository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store store.Repository) *CartService {
	return &CartService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// AddToCart puts quantity units of a product into the user's cart, on top of
// what is already there
func (s *CartService) AddToCart(ctx context.Context, userID, productID int64, quantity int) (*models.CartEntry, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddToCart",
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", quantity))
	var err error
	defer func() {
		util.EndSpan(span, err)
		recordCartOp("add", err)
	}()

	if quantity < 1 {
		err = models.NewValidationError("quantity", "min", "quantity must be at least 1")
		return nil, err
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.IsSold {
		err = models.ErrAlreadySold
		return nil, err
	}
	if product.OwnerID == userID {
		err = models.ErrSelfPurchase
		return nil, err
	}

	existing, err := s.store.GetCartEntry(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	inCart := 0
	if existing != nil {
		inCart = existing.Quantity
	}
	if inCart+quantity > product.Quantity {
		err = stockError(product, inCart+quantity)
		return nil, err
	}

	total, err := s.store.AddToCart(ctx, userID, productID, quantity, product.Quantity)
	if errors.Is(err, models.ErrInsufficientStock) {
		// a concurrent add from the same user got there first
		err = stockError(product, inCart+quantity)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Added to cart",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", total))

	return &models.CartEntry{UserID: userID, ProductID: productID, Quantity: total}, nil
}

// UpdateQuantity sets the quantity of a cart entry. A quantity below 1 removes it.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity",
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", quantity))
	var err error
	defer func() {
		util.EndSpan(span, err)
		recordCartOp("update", err)
	}()

	if quantity < 1 {
		err = s.store.RemoveFromCart(ctx, userID, productID)
		return err
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > product.Quantity {
		err = stockError(product, quantity)
		return err
	}

	err = s.store.SetCartQuantity(ctx, userID, productID, quantity)
	return err
}

// RemoveFromCart deletes a cart entry. Removing an absent entry succeeds.
func (s *CartService) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	err := s.store.RemoveFromCart(ctx, userID, productID)
	recordCartOp("remove", err)
	return err
}

// GetCart returns the user's cart lines with current product data
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return s.store.GetCart(ctx, userID)
}

func stockError(p *models.Product, requested int) *models.StockError {
	return &models.StockError{
		ProductID: p.ID,
		Title:     p.Title,
		Requested: requested,
		Available: p.Quantity,
	}
}

func recordCartOp(operation string, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInsufficientStock):
		result = "insufficient_stock"
	case errors.Is(err, models.ErrUnavailable):
		result = "unavailable"
	default:
		result = "rejected"
	}
	util.CartOperationsTotal.WithLabelValues(operation, result).Inc()
}
