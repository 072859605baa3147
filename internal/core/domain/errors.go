package domain

import (
	"errors"
	"strconv"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateOrder    = errors.New("order with this idempotency key already exists")
	ErrOptimisticLock    = errors.New("optimistic lock conflict")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientStockError carries the product whose reservation failed.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock for product " + e.ProductID + " (requested " + itoa(e.Requested) + ")"
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
