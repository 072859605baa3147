package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type CacheRepository interface {
	// ClaimIdempotency atomically claims key. It returns claimed=true for the
	// first caller; later callers get the stored value ("" while in flight).
	ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (claimed bool, value string, err error)

	// CompleteIdempotency records the result of a claimed key
	CompleteIdempotency(ctx context.Context, key, value string, ttl time.Duration) error

	// ReleaseIdempotency drops a claim so the request may be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetProduct returns nil, nil on cache miss
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error

	InvalidateProducts(ctx context.Context, productIDs ...string) error
}
