package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

// MySQLReservationStore implements port.ReservationRepository.
type MySQLReservationStore struct {
	db *sql.DB
}

func NewMySQLReservationStore(db *sql.DB) *MySQLReservationStore {
	return &MySQLReservationStore{db: db}
}

// Create re-checks availability under the stock row lock before inserting,
// so two concurrent reservations for the same key cannot both pass the
// check-then-act.
func (m *MySQLReservationStore) Create(ctx context.Context, res domain.Reservation) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	key := res.Key
	onHand, err := lockStockRowTx(ctx, tx, key)
	if err != nil {
		return err
	}

	var reserved decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE item_id = ? AND location_type = ? AND location_id = ?
		  AND released_at IS NULL AND expires_at > ?`,
		key.ItemID, key.LocationType, key.LocationID, res.CreatedAt,
	).Scan(&reserved)
	if err != nil {
		return fmt.Errorf("sum reservations: %w", err)
	}

	available := onHand.Sub(reserved)
	if res.Quantity.GreaterThan(available) {
		return fmt.Errorf("%s: available %s, requested %s: %w",
			key, available, res.Quantity, domain.ErrInsufficientAvailableStock)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations
			(id, item_id, location_type, location_id, quantity, reference_type,
			 reference_id, expires_at, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, key.ItemID, key.LocationType, key.LocationID, res.Quantity,
		res.Reference.Type, res.Reference.ID, res.ExpiresAt, res.CreatedBy, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLReservationStore) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var (
		res      domain.Reservation
		released sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, item_id, location_type, location_id, quantity, reference_type,
		       reference_id, expires_at, created_by, created_at, released_at
		FROM reservations WHERE id = ?`, id,
	).Scan(
		&res.ID, &res.Key.ItemID, &res.Key.LocationType, &res.Key.LocationID,
		&res.Quantity, &res.Reference.Type, &res.Reference.ID,
		&res.ExpiresAt, &res.CreatedBy, &res.CreatedAt, &released,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	if released.Valid {
		res.ReleasedAt = &released.Time
	}
	return &res, nil
}

func (m *MySQLReservationStore) Release(ctx context.Context, id string, now time.Time) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE reservations SET released_at = ?
		WHERE id = ? AND released_at IS NULL`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

func (m *MySQLReservationStore) ReleaseByReference(ctx context.Context, ref domain.Reference, now time.Time) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE reservations SET released_at = ?
		WHERE reference_type = ? AND reference_id = ? AND released_at IS NULL`,
		now, ref.Type, ref.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("release by reference: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (m *MySQLReservationStore) SumActive(ctx context.Context, key domain.StockKey, now time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE item_id = ? AND location_type = ? AND location_id = ?
		  AND released_at IS NULL AND expires_at > ?`,
		key.ItemID, key.LocationType, key.LocationID, now,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum active reservations: %w", err)
	}
	return sum, nil
}

// ExpireDue is a single set-based UPDATE: repeating it, or racing another
// worker, releases each due hold exactly once.
func (m *MySQLReservationStore) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE reservations SET released_at = ?
		WHERE released_at IS NULL AND expires_at <= ?
		LIMIT ?`,
		now, now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (m *MySQLReservationStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE released_at IS NULL AND expires_at <= ?`,
		now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due reservations: %w", err)
	}
	return n, nil
}
