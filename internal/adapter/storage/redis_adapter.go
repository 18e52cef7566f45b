package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

const (
	quantityKeyPrefix = "stock:"
	idempotencyPrefix = "idempotency:"
	sweepLockKey      = "reservation-sweep:lock"

	quantityCacheTTL  = 30 * time.Second
	idempotencyKeyTTL = 24 * time.Hour
)

// releaseLockScript deletes the sweep lock only if the caller still owns
// it, so a worker that overran the TTL cannot release a successor's lock.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisAdapter implements port.CacheRepository: a short-TTL on-hand read
// cache, idempotency keys for retried adjustments, and the reaper's
// best-effort sweep lock. MySQL stays the source of truth throughout.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func quantityKey(key domain.StockKey) string {
	return fmt.Sprintf("%s%d:%s:%d", quantityKeyPrefix, key.ItemID, key.LocationType, key.LocationID)
}

func (r *RedisAdapter) GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, bool, error) {
	val, err := r.client.Get(ctx, quantityKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	qty, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached quantity %q: %w", val, err)
	}
	return qty, true, nil
}

func (r *RedisAdapter) SetQuantity(ctx context.Context, key domain.StockKey, qty decimal.Decimal) error {
	return r.client.Set(ctx, quantityKey(key), qty.String(), quantityCacheTTL).Err()
}

func (r *RedisAdapter) InvalidateQuantity(ctx context.Context, keys ...domain.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = quantityKey(key)
	}
	return r.client.Del(ctx, cacheKeys...).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) AcquireSweepLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, sweepLockKey, owner, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) ReleaseSweepLock(ctx context.Context, owner string) error {
	return releaseLockScript.Run(ctx, r.client, []string{sweepLockKey}, owner).Err()
}
