package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type LocationType string

const (
	LocationWarehouse LocationType = "warehouse"
	LocationBranch    LocationType = "branch"
)

func (t LocationType) Valid() bool {
	return t == LocationWarehouse || t == LocationBranch
}

type Location struct {
	Type LocationType
	ID   int64
}

func (l Location) String() string {
	return fmt.Sprintf("%s/%d", l.Type, l.ID)
}

// StockKey identifies one stock record: an item held at a location.
// Ledger entries and reservations reference stock by key, never by row
// pointer, so aggregates are always re-resolved under the current lock.
type StockKey struct {
	ItemID       int64
	LocationType LocationType
	LocationID   int64
}

func KeyAt(itemID int64, loc Location) StockKey {
	return StockKey{ItemID: itemID, LocationType: loc.Type, LocationID: loc.ID}
}

func (k StockKey) Location() Location {
	return Location{Type: k.LocationType, ID: k.LocationID}
}

func (k StockKey) String() string {
	return fmt.Sprintf("item %d @ %s/%d", k.ItemID, k.LocationType, k.LocationID)
}

// Less gives a total order over keys, used to lock stock rows in a
// deterministic order inside multi-key transactions.
func (k StockKey) Less(o StockKey) bool {
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	if k.LocationType != o.LocationType {
		return k.LocationType < o.LocationType
	}
	return k.LocationID < o.LocationID
}

// StockRecord is the on-hand quantity for a key. Rows are created lazily on
// first movement and never hard-deleted, so ledger history stays resolvable.
type StockRecord struct {
	ID           int64
	Key          StockKey
	Quantity     decimal.Decimal
	ReorderLevel decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r StockRecord) BelowReorder() bool {
	return r.ReorderLevel.IsPositive() && r.Quantity.LessThan(r.ReorderLevel)
}

type ReferenceType string

const (
	RefSale               ReferenceType = "sale"
	RefPurchase           ReferenceType = "purchase"
	RefTransfer           ReferenceType = "transfer"
	RefAdjustment         ReferenceType = "adjustment"
	RefReservationRelease ReferenceType = "reservation_release"
)

func (t ReferenceType) Valid() bool {
	switch t {
	case RefSale, RefPurchase, RefTransfer, RefAdjustment, RefReservationRelease:
		return true
	}
	return false
}

// Reference names the business transaction that caused a movement or hold.
type Reference struct {
	Type ReferenceType
	ID   int64
}

// Movement is one requested quantity change. Delta is signed; negative
// deltas that would take on-hand below zero are refused unless
// AllowNegative is set, which no caller sets by default.
type Movement struct {
	Key           StockKey
	Delta         decimal.Decimal
	Reference     Reference
	ActorID       int64
	AllowNegative bool
}
