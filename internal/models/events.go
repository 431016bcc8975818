package models

import "time"

// Event types
const (
	EventTypeProductCreated    = "PRODUCT_CREATED"
	EventTypeProductUpdated    = "PRODUCT_UPDATED"
	EventTypeProductDeleted    = "PRODUCT_DELETED"
	EventTypeProductSoldOut    = "PRODUCT_SOLD_OUT"
	EventTypeCheckoutCompleted = "CHECKOUT_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ProductChangedEvent published when a listing is created or edited
type ProductChangedEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
	OwnerID   int64 `json:"owner_id"`
	Quantity  int   `json:"quantity"`
	IsSold    bool  `json:"is_sold"`
	Version   int64 `json:"version"`
}

// ProductDeletedEvent published when an owner removes a listing. Version is
// the deletion time in microseconds, on the same clock as availability versions.
type ProductDeletedEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
	OwnerID   int64 `json:"owner_id"`
	Version   int64 `json:"version"`
}

// ProductSoldOutEvent published when a checkout drains a product's quantity
type ProductSoldOutEvent struct {
	BaseEvent
	ProductID  int64  `json:"product_id"`
	OwnerID    int64  `json:"owner_id"`
	CheckoutID string `json:"checkout_id"`
	Version    int64  `json:"version"`
}

// CheckoutCompletedEvent published after a checkout commits
type CheckoutCompletedEvent struct {
	BaseEvent
	CheckoutID string         `json:"checkout_id"`
	UserID     int64          `json:"user_id"`
	Units      int            `json:"units"`
	TotalCents int64          `json:"total_cents"`
	Items      []CheckoutItem `json:"items"`
}
