package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const productColumns = `id, owner_id, title, description, category, price_cents, quantity, image_url, is_sold, created_at, updated_at`

// nextUpdatedAt is the updated_at of a write. It reads the wall clock at the
// statement, not at transaction start, and never goes below the previous
// value, so availability versions rise with every write to a row.
const nextUpdatedAt = `GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')`

// Store is the PostgreSQL implementation of Repository
type Store struct {
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already opened connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables the store needs if they do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", wrapErr(err))
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return wrapErr(s.db.PingContext(ctx))
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// CreateProduct inserts a listing and fills in its generated fields
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (owner_id, title, description, category, price_cents, quantity, image_url, is_sold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		p.OwnerID, p.Title, p.Description, p.Category, p.PriceCents, p.Quantity, p.ImageURL, p.IsSold)
	return wrapErr(row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt))
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, wrapErr(err)
}

// ListAvailableProducts returns one page of unsold listings, newest first,
// together with the number of listings matching the filter
func (s *Store) ListAvailableProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, int64, error) {
	conds := []string{"is_sold = FALSE"}
	var args []interface{}

	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if f.Category != "" && f.Category != models.CategoryAll {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products"+where, args...); err != nil {
		return nil, 0, wrapErr(err)
	}

	args = append(args, f.Limit, f.Offset())
	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		productColumns, where, len(args)-1, len(args))

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, wrapErr(err)
	}
	return products, total, nil
}

// ListProductsByOwner returns every listing of a user, sold ones included
func (s *Store) ListProductsByOwner(ctx context.Context, ownerID int64) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE owner_id = $1 ORDER BY created_at DESC, id DESC", ownerID)
	return products, wrapErr(err)
}

// UpdateProduct stores the editable fields of a listing. p.UpdatedAt must
// still match the stored row, otherwise a concurrent write (an edit or a
// checkout decrement) happened since p was read and models.ErrConflict is returned.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET title = $1, description = $2, category = $3, price_cents = $4,
		    quantity = $5, image_url = $6, is_sold = $7, updated_at = ` + nextUpdatedAt + `
		WHERE id = $8 AND updated_at = $9
		RETURNING updated_at`

	err := s.db.GetContext(ctx, &p.UpdatedAt, query,
		p.Title, p.Description, p.Category, p.PriceCents, p.Quantity, p.ImageURL, p.IsSold, p.ID, p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", p.ID); err != nil {
			return wrapErr(err)
		}
		if !exists {
			return fmt.Errorf("product %d: %w", p.ID, models.ErrNotFound)
		}
		return fmt.Errorf("product %d: %w", p.ID, models.ErrConflict)
	}
	return wrapErr(err)
}

// DeleteProduct removes a listing; cart entries go with it. The returned time
// is past every version the row ever had and serves as the tombstone version.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (time.Time, error) {
	var deletedAt time.Time
	err := s.db.GetContext(ctx, &deletedAt,
		"DELETE FROM products WHERE id = $1 RETURNING "+nextUpdatedAt, id)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	return deletedAt, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, wrapErr(err)
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return wrapErr(err)
}

// SQLSTATEs of transactions Postgres aborted and that succeed when retried
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// wrapErr marks connectivity failures and retryable aborts as models.ErrUnavailable
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) &&
		(pqErr.Code == sqlStateSerializationFailure || pqErr.Code == sqlStateDeadlockDetected) {
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
