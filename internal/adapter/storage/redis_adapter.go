package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const productKeyPrefix = "product:"

var _ port.CacheRepository = (*RedisAdapter)(nil)

// claimScript returns {1, ""} after claiming the key with an empty value, or
// {0, value} when the key is already present.
var claimScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	return {0, current}
end

redis.call('SET', KEYS[1], '', 'PX', ARGV[1])
return {1, ''}
`)

// releaseScript drops a claim only while it is still in flight.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == '' then
	return redis.call('DEL', KEYS[1])
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	res, err := claimScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Slice()
	if err != nil {
		return false, "", err
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("claim idempotency: unexpected reply %v", res)
	}

	claimed, _ := res[0].(int64)
	value, _ := res[1].(string)
	return claimed == 1, value, nil
}

func (r *RedisAdapter) CompleteIdempotency(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}).Err()
}

func (r *RedisAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	val, err := r.client.Get(ctx, productKeyPrefix+productID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("decode cached product: %w", err)
	}
	return &p, nil
}

func (r *RedisAdapter) SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	return r.client.Set(ctx, productKeyPrefix+product.ID, data, ttl).Err()
}

func (r *RedisAdapter) InvalidateProducts(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = productKeyPrefix + id
	}
	return r.client.Del(ctx, keys...).Err()
}
