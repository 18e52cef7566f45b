package port

import (
	"context"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

// LocationDirectory resolves location display names for read-only
// projections. Warehouses and branches themselves are managed outside the
// core.
type LocationDirectory interface {
	LocationName(ctx context.Context, loc domain.Location) (string, error)
}
