package store

import (
	"context"
	"time"

	"marketplace-service/internal/models"
)

// Repository is the persistence boundary of the catalog, carts and purchase history.
//
// Implementations return models.ErrNotFound for absent products and wrap
// connectivity failures with models.ErrUnavailable.
type Repository interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListAvailableProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int64, error)
	ListProductsByOwner(ctx context.Context, ownerID int64) ([]models.Product, error)
	// UpdateProduct fails with models.ErrConflict when the stored row changed
	// after product was read (optimistic check on UpdatedAt).
	UpdateProduct(ctx context.Context, product *models.Product) error
	// DeleteProduct returns the deletion time, later than any UpdatedAt the
	// product had.
	DeleteProduct(ctx context.Context, id int64) (time.Time, error)

	// GetCartEntry returns nil, nil when the user has no entry for the product.
	GetCartEntry(ctx context.Context, userID, productID int64) (*models.CartEntry, error)
	// AddToCart creates the entry or increments it, as long as the resulting
	// quantity stays within limit. It returns the resulting quantity or
	// models.ErrInsufficientStock.
	AddToCart(ctx context.Context, userID, productID int64, quantity, limit int) (int, error)
	SetCartQuantity(ctx context.Context, userID, productID int64, quantity int) error
	RemoveFromCart(ctx context.Context, userID, productID int64) error
	GetCart(ctx context.Context, userID int64) ([]models.CartLine, error)

	ListPurchases(ctx context.Context, userID int64) ([]models.PurchaseRecord, error)

	// WithinTx runs fn as one unit of work: either every write made through tx
	// is kept or none is.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of writes a checkout performs atomically
type Tx interface {
	// LockCart loads the user's cart and holds it until the unit of work ends,
	// so two checkouts of the same user never consume the same entries.
	LockCart(ctx context.Context, userID int64) ([]models.CartLine, error)
	// DecrementStock subtracts amount from the product's quantity only if the
	// current quantity covers it, flipping is_sold when it reaches zero.
	DecrementStock(ctx context.Context, productID int64, amount int) (*models.Product, error)
	InsertPurchases(ctx context.Context, records []models.PurchaseRecord) error
	ClearCart(ctx context.Context, userID int64) error
}
