package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is a time-bounded soft hold against available stock. It does
// not move inventory; it only shrinks what Reserve will promise next.
type Reservation struct {
	ID         string
	Key        StockKey
	Quantity   decimal.Decimal
	Reference  Reference
	ExpiresAt  time.Time
	CreatedBy  int64
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// Active reports whether the hold still counts against availability.
// Expiry is purely time-based: a lapsed hold stops counting the instant
// ExpiresAt passes, whether or not the reaper has swept it yet.
func (r Reservation) Active(now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}
