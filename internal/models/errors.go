package models

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds reported by the catalog, cart and checkout operations
var (
	ErrNotFound          = errors.New("not found")
	ErrNotOwner          = errors.New("not the owner of this product")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadySold       = errors.New("product is already sold")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSelfPurchase      = errors.New("cannot add your own product to cart")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNotInCart         = errors.New("product not in cart")
	ErrCheckoutBusy      = errors.New("checkout already in progress")
	ErrConflict          = errors.New("product was modified concurrently")
	ErrUnavailable       = errors.New("service unavailable")
)

// StockError reports which product could not cover a requested quantity
type StockError struct {
	ProductID int64
	Title     string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("insufficient stock for %s: available=%d, requested=%d", e.Title, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %d: available=%d, requested=%d", e.ProductID, e.Available, e.Requested)
}

// Is matches ErrInsufficientStock
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a request
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a single-field validation failure
func NewValidationError(field, tag, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Tag: tag, Message: message}}}
}
