package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type DatabaseRepository interface {
	// WithinTx runs fn in one database transaction. Returning an error from fn
	// rolls back every write made through tx; returning nil commits them together.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error

	// GetOrder returns nil, nil when the order does not exist
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)

	// FindOrderByIdempotencyKey returns nil, nil when no order carries the key
	FindOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Order, error)

	GetInventory(ctx context.Context, productID string) (*domain.Inventory, error)

	GetAddresses(ctx context.Context, buyerID string) ([]domain.Address, error)
}

// OrderTx is the set of writes allowed inside an order placement unit.
type OrderTx interface {
	// CreateOrder persists the order and its line items
	CreateOrder(ctx context.Context, order domain.Order) error

	// ReserveStock atomically decrements stock, returns false if insufficient or unknown product
	ReserveStock(ctx context.Context, productID string, quantity int) (bool, error)

	// UpsertAddress writes the (buyer, role) entry in place and returns its id
	UpsertAddress(ctx context.Context, address domain.Address) (string, error)
}

type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) (domain.ProductPage, error)
	CreateProduct(ctx context.Context, product domain.Product) error

	// UpdateProduct updates name, category and price with a version check for optimistic locking
	UpdateProduct(ctx context.Context, product domain.Product) error

	DeleteProduct(ctx context.Context, productID string) (bool, error)
}

type UserRepository interface {
	// CreateUser returns ErrDuplicateEmail if the email is taken
	CreateUser(ctx context.Context, user domain.User) error

	// GetUserByEmail returns nil, nil when no user matches
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}
