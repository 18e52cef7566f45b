package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

// MySQLAdapter implements the ledger and location ports over database/sql.
// Every mutation runs in its own transaction; the stock row is locked FOR
// UPDATE before any before/after computation so concurrent writers to the
// same (item, location) serialize instead of losing updates.
type MySQLAdapter struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMySQLAdapter(db *sql.DB, logger zerolog.Logger) *MySQLAdapter {
	return &MySQLAdapter{db: db, logger: logger.With().Str("component", "mysql").Logger()}
}

func (m *MySQLAdapter) RecordMovement(ctx context.Context, mv domain.Movement) (domain.LedgerEntry, error) {
	entries, err := m.RecordMovements(ctx, []domain.Movement{mv})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entries[0], nil
}

func (m *MySQLAdapter) RecordMovements(ctx context.Context, mvs []domain.Movement) ([]domain.LedgerEntry, error) {
	if len(mvs) == 0 {
		return nil, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	entries, err := applyMovementsTx(ctx, tx, mvs, time.Now())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entries, nil
}

// applyMovementsTx applies a batch inside an open transaction. Stock rows
// are locked in key order so two batches touching the same keys can never
// deadlock each other.
func applyMovementsTx(ctx context.Context, tx *sql.Tx, mvs []domain.Movement, now time.Time) ([]domain.LedgerEntry, error) {
	order := make([]int, len(mvs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return mvs[order[a]].Key.Less(mvs[order[b]].Key)
	})

	entries := make([]domain.LedgerEntry, len(mvs))
	for _, i := range order {
		entry, err := applyMovementTx(ctx, tx, mvs[i], now)
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	return entries, nil
}

// lockStockRowTx lazily creates the stock row for key, locks it FOR UPDATE
// and returns its current quantity. Rows are never deleted once created, so
// ledger history stays resolvable.
func lockStockRowTx(ctx context.Context, tx *sql.Tx, key domain.StockKey) (decimal.Decimal, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO stock_records (item_id, location_type, location_id, quantity)
		VALUES (?, ?, ?, 0)`,
		key.ItemID, key.LocationType, key.LocationID,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ensure stock record: %w", err)
	}

	var qty decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT quantity FROM stock_records
		WHERE item_id = ? AND location_type = ? AND location_id = ?
		FOR UPDATE`,
		key.ItemID, key.LocationType, key.LocationID,
	).Scan(&qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock stock record: %w", err)
	}
	return qty, nil
}

func applyMovementTx(ctx context.Context, tx *sql.Tx, mv domain.Movement, now time.Time) (domain.LedgerEntry, error) {
	key := mv.Key

	before, err := lockStockRowTx(ctx, tx, key)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	// Continuity: the row quantity must match the tail of the ledger chain
	// for this key. A mismatch means an out-of-band write slipped past the
	// movement primitive.
	var lastAfter decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT quantity_after FROM ledger_entries
		WHERE item_id = ? AND location_type = ? AND location_id = ?
		ORDER BY id DESC LIMIT 1`,
		key.ItemID, key.LocationType, key.LocationID,
	).Scan(&lastAfter)
	if errors.Is(err, sql.ErrNoRows) {
		lastAfter = decimal.Zero
	} else if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("read ledger tail: %w", err)
	}
	if !lastAfter.Equal(before) {
		return domain.LedgerEntry{}, fmt.Errorf("%s: record has %s, ledger tail has %s: %w",
			key, before, lastAfter, domain.ErrLedgerContinuity)
	}

	after := before.Add(mv.Delta)
	if after.IsNegative() && !mv.AllowNegative {
		return domain.LedgerEntry{}, fmt.Errorf("%s: have %s, requested %s: %w",
			key, before, mv.Delta.Abs(), domain.ErrInsufficientStock)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_records SET quantity = ?, updated_at = ?
		WHERE item_id = ? AND location_type = ? AND location_id = ?`,
		after, now, key.ItemID, key.LocationType, key.LocationID,
	)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("update stock record: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(item_id, location_type, location_id, quantity_before, quantity_change,
			 quantity_after, reference_type, reference_id, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ItemID, key.LocationType, key.LocationID, before, mv.Delta, after,
		mv.Reference.Type, mv.Reference.ID, mv.ActorID, now,
	)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger entry id: %w", err)
	}

	return domain.LedgerEntry{
		ID:             id,
		Key:            key,
		QuantityBefore: before,
		QuantityChange: mv.Delta,
		QuantityAfter:  after,
		Reference:      mv.Reference,
		ActorID:        mv.ActorID,
		CreatedAt:      now,
	}, nil
}

func (m *MySQLAdapter) GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := m.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_records
		WHERE item_id = ? AND location_type = ? AND location_id = ?`,
		key.ItemID, key.LocationType, key.LocationID,
	).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query quantity: %w", err)
	}
	return qty, nil
}

func (m *MySQLAdapter) GetStockRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	rec := domain.StockRecord{Key: key}
	err := m.db.QueryRowContext(ctx, `
		SELECT id, quantity, reorder_level, created_at, updated_at
		FROM stock_records
		WHERE item_id = ? AND location_type = ? AND location_id = ?`,
		key.ItemID, key.LocationType, key.LocationID,
	).Scan(&rec.ID, &rec.Quantity, &rec.ReorderLevel, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock record: %w", err)
	}
	return &rec, nil
}

func (m *MySQLAdapter) QueryMovements(ctx context.Context, f domain.MovementFilter) ([]domain.LedgerEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.ItemID > 0 {
		conds = append(conds, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.LocationType != "" {
		conds = append(conds, "location_type = ?")
		args = append(args, f.LocationType)
	}
	if f.LocationID > 0 {
		conds = append(conds, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.ReferenceType != "" {
		conds = append(conds, "reference_type = ?")
		args = append(args, f.ReferenceType)
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.To)
	}

	query := `
		SELECT id, item_id, location_type, location_id, quantity_before,
		       quantity_change, quantity_after, reference_type, reference_id,
		       actor_id, created_at
		FROM ledger_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// The (created_at, id) tie-break keeps report pagination deterministic.
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.Key.ItemID, &e.Key.LocationType, &e.Key.LocationID,
			&e.QuantityBefore, &e.QuantityChange, &e.QuantityAfter,
			&e.Reference.Type, &e.Reference.ID, &e.ActorID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LocationName resolves the display name of a warehouse or branch for
// read-only projections.
func (m *MySQLAdapter) LocationName(ctx context.Context, loc domain.Location) (string, error) {
	table := "warehouses"
	if loc.Type == domain.LocationBranch {
		table = "branches"
	}

	var name string
	err := m.db.QueryRowContext(ctx, `SELECT name FROM `+table+` WHERE id = ?`, loc.ID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Debug().Stringer("location", loc).Msg("location has no name, using key")
		return loc.String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve location name: %w", err)
	}
	return name, nil
}
