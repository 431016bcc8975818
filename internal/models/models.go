package models

import (
	"math"
	"time"
)

// DefaultImage is used when a listing is created without an image reference
const DefaultImage = "https://via.placeholder.com/300x200/10B981/FFFFFF?text=Product+Image"

// Product represents a listed item in the catalog
type Product struct {
	ID          int64     `db:"id" json:"id"`
	OwnerID     int64     `db:"owner_id" json:"owner_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Category    string    `db:"category" json:"category"`
	PriceCents  int64     `db:"price_cents" json:"price_cents"`
	Quantity    int       `db:"quantity" json:"quantity"`
	ImageURL    string    `db:"image_url" json:"image_url"`
	IsSold      bool      `db:"is_sold" json:"is_sold"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Availability returns the availability snapshot of the product
func (p *Product) Availability() Availability {
	return Availability{
		ProductID: p.ID,
		Quantity:  p.Quantity,
		IsSold:    p.IsSold,
		Version:   p.UpdatedAt.UnixMicro(),
	}
}

// Availability is the quantity and sold state of a product at a point in time.
// Version orders snapshots of the same product (update time in microseconds).
type Availability struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	IsSold    bool  `json:"is_sold"`
	Version   int64 `json:"version"`
}

// CartEntry is a user's intent to buy Quantity units of a product
type CartEntry struct {
	UserID    int64     `db:"user_id" json:"-"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	AddedAt   time.Time `db:"added_at" json:"added_at"`
}

// CartLine is a cart entry joined with the current product data
type CartLine struct {
	CartEntry
	Product Product `db:"product" json:"product"`
}

// PurchaseRecord is one purchased unit. Product is read by reference and is nil
// when the listing has since been deleted.
type PurchaseRecord struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	CheckoutID string    `db:"checkout_id" json:"checkout_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	Product    *Product  `db:"-" json:"product"`
}

// ProductFilter selects a page of available products
type ProductFilter struct {
	Search   string
	Category string
	Page     int
	Limit    int
}

// Offset returns the row offset of the page. It saturates at math.MaxInt
// instead of overflowing for page numbers far past the last page.
func (f ProductFilter) Offset() int {
	if f.Page < 1 || f.Limit < 1 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.Limit {
		return math.MaxInt
	}
	return (f.Page - 1) * f.Limit
}

// ProductPage is one page of catalog listings
type ProductPage struct {
	Products    []Product `json:"products"`
	Total       int64     `json:"total"`
	TotalPages  int       `json:"total_pages"`
	CurrentPage int       `json:"current_page"`
}

// ProductUpdate carries the fields an owner wants to change; nil fields are kept
type ProductUpdate struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	Category    *string `json:"category,omitempty" validate:"omitempty,category"`
	PriceCents  *int64  `json:"price_cents,omitempty" validate:"omitempty,min=0"`
	Quantity    *int    `json:"quantity,omitempty" validate:"omitempty,min=1,max=10000"`
	ImageURL    *string `json:"image_url,omitempty" validate:"omitempty,url"`
}

// CheckoutResult summarizes a committed checkout
type CheckoutResult struct {
	CheckoutID string         `json:"checkout_id"`
	UserID     int64          `json:"user_id"`
	Units      int            `json:"units"`
	Items      []CheckoutItem `json:"items"`
	TotalCents int64          `json:"total_cents"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CheckoutItem is one cart line after its decrement was committed
type CheckoutItem struct {
	ProductID  int64 `json:"product_id"`
	OwnerID    int64 `json:"owner_id"`
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"price_cents"`
	Remaining  int   `json:"remaining"`
	IsSold     bool  `json:"is_sold"`
	Version    int64 `json:"version"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
