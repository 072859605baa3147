package domain

import "time"

// Inventory is the stock counter of one product. Quantity never goes below
// zero; the only write path during checkout is the conditional reservation.
type Inventory struct {
	ProductID string
	Quantity  int
	Version   int // optimistic locking for catalog edits
	UpdatedAt time.Time
}
