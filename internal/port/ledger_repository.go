package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

// LedgerRepository owns the only mutation primitive for stock: a quantity
// change and its ledger entry are applied together or not at all.
type LedgerRepository interface {
	// RecordMovement applies one delta inside a row-locked transaction and
	// appends the matching ledger entry. Returns the appended entry, which
	// carries the before/after quantities. Fails with
	// domain.ErrInsufficientStock or domain.ErrLedgerContinuity.
	RecordMovement(ctx context.Context, mv domain.Movement) (domain.LedgerEntry, error)

	// RecordMovements applies a batch under one outer transaction,
	// all-or-nothing. Rows are locked in deterministic key order.
	RecordMovements(ctx context.Context, mvs []domain.Movement) ([]domain.LedgerEntry, error)

	// GetQuantity returns the on-hand quantity for a key, zero if the item
	// has never been stocked at the location.
	GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, error)

	// GetStockRecord returns the full record for a key, nil if none exists.
	GetStockRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error)

	// QueryMovements returns ledger entries matching the filter, ordered by
	// (created_at desc, id desc).
	QueryMovements(ctx context.Context, f domain.MovementFilter) ([]domain.LedgerEntry, error)
}
