package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one immutable row of the movement log. For a given key the
// entries form a chain: each entry's QuantityBefore equals the previous
// entry's QuantityAfter (ledger continuity), and QuantityAfter is always
// QuantityBefore + QuantityChange.
type LedgerEntry struct {
	ID             int64
	Key            StockKey
	QuantityBefore decimal.Decimal
	QuantityChange decimal.Decimal
	QuantityAfter  decimal.Decimal
	Reference      Reference
	ActorID        int64
	CreatedAt      time.Time
}

// MovementFilter narrows a ledger query. Zero values mean "any".
// Results are ordered by (created_at desc, id desc) so paginated report
// views stay deterministic.
type MovementFilter struct {
	ItemID        int64
	LocationType  LocationType
	LocationID    int64
	ReferenceType ReferenceType
	From          time.Time
	To            time.Time
	Limit         int
}
