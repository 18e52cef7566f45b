package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

type ReservationRepository interface {
	// Create inserts the reservation after re-checking availability
	// (on-hand minus active holds) inside the same transaction, holding the
	// stock row lock. Fails with domain.ErrInsufficientAvailableStock.
	Create(ctx context.Context, res domain.Reservation) error

	// FindByID returns the reservation, nil if unknown.
	FindByID(ctx context.Context, id string) (*domain.Reservation, error)

	// Release marks the reservation inactive. Idempotent: releasing an
	// already-released or expired hold is a no-op.
	Release(ctx context.Context, id string, now time.Time) error

	// ReleaseByReference releases every active hold placed for a business
	// transaction, returning how many were released.
	ReleaseByReference(ctx context.Context, ref domain.Reference, now time.Time) (int, error)

	// SumActive returns the total quantity of non-released, non-expired
	// holds for a key.
	SumActive(ctx context.Context, key domain.StockKey, now time.Time) (decimal.Decimal, error)

	// ExpireDue releases at most limit reservations with expires_at <= now,
	// returning the number released. Set-based and safe to run concurrently.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)

	// CountDue reports how many reservations ExpireDue would release,
	// without mutating anything.
	CountDue(ctx context.Context, now time.Time) (int, error)
}
