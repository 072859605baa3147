package service

import (
	"errors"

	"github.com/rl1809/storefront/internal/core/domain"
)

// User-facing messages, returned verbatim to HTTP and gRPC callers. The
// capitalized ones keep the wording existing clients match on.
var (
	ErrUnauthenticated     = errors.New("You must be logged in to access this resource")
	ErrUnauthorized        = errors.New("You are not authorized to perform this action")
	ErrInvalidCredentials  = errors.New("Username or password is wrong")
	ErrExistingUser        = errors.New("User already exists")
	ErrOrderCreateFailed   = errors.New("Failed to create the order")
	ErrProductsFetchFailed = errors.New("Failed to fetch products")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrOrderNotFound       = errors.New("order not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrStorageDisabled     = errors.New("image storage is not configured")
)

func requireBuyer(p *domain.Principal) error {
	if p == nil || p.UserID == "" {
		return ErrUnauthenticated
	}
	if !p.IsBuyer() {
		return ErrUnauthorized
	}
	return nil
}

func requireAdmin(p *domain.Principal) error {
	if p == nil || p.UserID == "" {
		return ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}
