package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// purchaseBatchSize bounds the rows of one multi-row INSERT
const purchaseBatchSize = 1000

// ListPurchases returns the user's purchased units, newest first, each joined
// with the product as it currently is
func (s *Store) ListPurchases(ctx context.Context, userID int64) ([]models.PurchaseRecord, error) {
	records := []models.PurchaseRecord{}
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, user_id, product_id, checkout_id, created_at
		 FROM purchases WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(records) == 0 {
		return records, nil
	}

	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if !seen[r.ProductID] {
			seen[r.ProductID] = true
			ids = append(ids, r.ProductID)
		}
	}

	products, err := s.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	attachProducts(records, products)
	return records, nil
}

func attachProducts(records []models.PurchaseRecord, products []models.Product) {
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for i := range records {
		records[i].Product = byID[records[i].ProductID]
	}
}

// WithinTx runs fn inside a database transaction and commits only if fn succeeds
func (s *Store) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	return wrapErr(tx.Commit())
}

type pgTx struct {
	tx *sqlx.Tx
}

// LockCart loads the cart with FOR UPDATE on the cart rows
func (t *pgTx) LockCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := t.tx.SelectContext(ctx, &lines, cartLineQuery+" FOR UPDATE OF c", userID)
	return lines, wrapErr(err)
}

// DecrementStock is a single conditional UPDATE; concurrent decrements of the
// same row serialize on the row lock and re-evaluate the quantity predicate
func (t *pgTx) DecrementStock(ctx context.Context, productID int64, amount int) (*models.Product, error) {
	if amount < 1 {
		return nil, models.NewValidationError("quantity", "min", "quantity must be at least 1")
	}

	query := `
		UPDATE products
		SET quantity = quantity - $1, is_sold = (quantity - $1 = 0), updated_at = ` + nextUpdatedAt + `
		WHERE id = $2 AND quantity >= $1
		RETURNING ` + productColumns

	var product models.Product
	err := t.tx.GetContext(ctx, &product, query, amount, productID)
	if err == nil {
		return &product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapErr(err)
	}

	var current models.Product
	err = t.tx.GetContext(ctx, &current, "SELECT "+productColumns+" FROM products WHERE id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return nil, &models.StockError{
		ProductID: productID,
		Title:     current.Title,
		Requested: amount,
		Available: current.Quantity,
	}
}

// InsertPurchases writes the per-unit records in batches
func (t *pgTx) InsertPurchases(ctx context.Context, records []models.PurchaseRecord) error {
	for start := 0; start < len(records); start += purchaseBatchSize {
		end := start + purchaseBatchSize
		if end > len(records) {
			end = len(records)
		}
		_, err := t.tx.NamedExecContext(ctx,
			`INSERT INTO purchases (user_id, product_id, checkout_id)
			 VALUES (:user_id, :product_id, :checkout_id)`, records[start:end])
		if err != nil {
			return fmt.Errorf("failed to insert purchases: %w", wrapErr(err))
		}
	}
	return nil
}

// ClearCart removes every entry of the user
func (t *pgTx) ClearCart(ctx context.Context, userID int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return wrapErr(err)
}
