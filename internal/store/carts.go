package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
)

const cartLineQuery = `
	SELECT c.user_id, c.product_id, c.quantity, c.added_at,
	       p.id AS "product.id", p.owner_id AS "product.owner_id", p.title AS "product.title",
	       p.description AS "product.description", p.category AS "product.category",
	       p.price_cents AS "product.price_cents", p.quantity AS "product.quantity",
	       p.image_url AS "product.image_url", p.is_sold AS "product.is_sold",
	       p.created_at AS "product.created_at", p.updated_at AS "product.updated_at"
	FROM cart_items c
	JOIN products p ON p.id = c.product_id
	WHERE c.user_id = $1
	ORDER BY c.added_at, c.product_id`

// GetCartEntry returns the user's entry for a product, or nil if there is none
func (s *Store) GetCartEntry(ctx context.Context, userID, productID int64) (*models.CartEntry, error) {
	var entry models.CartEntry
	err := s.db.GetContext(ctx, &entry,
		"SELECT user_id, product_id, quantity, added_at FROM cart_items WHERE user_id = $1 AND product_id = $2",
		userID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &entry, nil
}

// AddToCart upserts the entry; an increment that would pass limit is refused
// by the WHERE clause and no row comes back
func (s *Store) AddToCart(ctx context.Context, userID, productID int64, quantity, limit int) (int, error) {
	if quantity > limit {
		return 0, models.ErrInsufficientStock
	}

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		WHERE cart_items.quantity + EXCLUDED.quantity <= $4
		RETURNING quantity`

	var result int
	err := s.db.GetContext(ctx, &result, query, userID, productID, quantity, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrInsufficientStock
	}
	if err != nil {
		return 0, wrapErr(err)
	}
	return result, nil
}

// SetCartQuantity overwrites the quantity of an existing entry
func (s *Store) SetCartQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE user_id = $2 AND product_id = $3",
		quantity, userID, productID)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotInCart)
	}
	return nil
}

// RemoveFromCart deletes the entry if present
func (s *Store) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2", userID, productID)
	return wrapErr(err)
}

// GetCart returns the user's cart joined with product data
func (s *Store) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := s.db.SelectContext(ctx, &lines, cartLineQuery, userID)
	return lines, wrapErr(err)
}
