package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

type CacheRepository interface {
	// GetQuantity returns a cached on-hand quantity and whether it was
	// present. A cache error is returned as (zero, false, err) so callers
	// can fall through to the store.
	GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, bool, error)

	// SetQuantity caches an on-hand quantity with a short TTL.
	SetQuantity(ctx context.Context, key domain.StockKey, qty decimal.Decimal) error

	// InvalidateQuantity drops the cached quantities for the given keys.
	InvalidateQuantity(ctx context.Context, keys ...domain.StockKey) error

	// SetIdempotency sets a request key, returns false if it already exists.
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// AcquireSweepLock takes the reaper lock for owner, returns false if
	// another worker holds it.
	AcquireSweepLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// ReleaseSweepLock releases the reaper lock if owner still holds it.
	ReleaseSweepLock(ctx context.Context, owner string) error
}
