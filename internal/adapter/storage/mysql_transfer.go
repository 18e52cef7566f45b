package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
	"github.com/hirebirhan/amtradingplc-sub002/internal/port"
)

// MySQLTransferStore implements port.TransferRepository. Complete and
// Reject are single transactions: the status flip is a conditional UPDATE
// guarded on the current status, so two concurrent approvals can never both
// execute the movements.
type MySQLTransferStore struct {
	db        *sql.DB
	directory port.LocationDirectory
}

func NewMySQLTransferStore(db *sql.DB, directory port.LocationDirectory) *MySQLTransferStore {
	return &MySQLTransferStore{db: db, directory: directory}
}

func (m *MySQLTransferStore) Create(ctx context.Context, tr *domain.Transfer) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transfers
			(reference_code, source_type, source_id, destination_type, destination_id,
			 status, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ReferenceCode, tr.Source.Type, tr.Source.ID,
		tr.Destination.Type, tr.Destination.ID,
		domain.TransferPending, tr.Note, tr.CreatedBy, now,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transfer id: %w", err)
	}

	for _, item := range tr.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_items (transfer_id, item_id, quantity, unit_cost)
			VALUES (?, ?, ?, ?)`,
			id, item.ItemID, item.Quantity, item.UnitCost,
		)
		if err != nil {
			return fmt.Errorf("insert transfer item %d: %w", item.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	tr.ID = id
	tr.Status = domain.TransferPending
	tr.CreatedAt = now
	return nil
}

func (m *MySQLTransferStore) FindByID(ctx context.Context, id int64) (*domain.Transfer, error) {
	return m.findOne(ctx, `WHERE id = ?`, id)
}

func (m *MySQLTransferStore) FindByCode(ctx context.Context, code string) (*domain.Transfer, error) {
	return m.findOne(ctx, `WHERE reference_code = ?`, code)
}

const transferColumns = `
	SELECT id, reference_code, source_type, source_id, destination_type,
	       destination_id, status, note, last_error, reject_reason, created_by,
	       approved_by, rejected_by, created_at, completed_at
	FROM transfers `

func (m *MySQLTransferStore) findOne(ctx context.Context, where string, arg interface{}) (*domain.Transfer, error) {
	row := m.db.QueryRowContext(ctx, transferColumns+where, arg)
	tr, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transfer: %w", err)
	}

	if err := m.loadItems(ctx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func (m *MySQLTransferStore) ListByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error) {
	rows, err := m.db.QueryContext(ctx,
		transferColumns+`WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, *tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transfers {
		if err := m.loadItems(ctx, &transfers[i]); err != nil {
			return nil, err
		}
	}
	return transfers, nil
}

func (m *MySQLTransferStore) loadItems(ctx context.Context, tr *domain.Transfer) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit_cost FROM transfer_items
		WHERE transfer_id = ? ORDER BY id`,
		tr.ID,
	)
	if err != nil {
		return fmt.Errorf("query transfer items: %w", err)
	}
	defer rows.Close()

	tr.Items = tr.Items[:0]
	for rows.Next() {
		var item domain.TransferItem
		if err := rows.Scan(&item.ItemID, &item.Quantity, &item.UnitCost); err != nil {
			return fmt.Errorf("scan transfer item: %w", err)
		}
		tr.Items = append(tr.Items, item)
	}
	return rows.Err()
}

// Complete flips pending -> completed, applies every movement with its
// ledger entry and releases the transfer's holds, all in one transaction.
// Any error rolls everything back and leaves the transfer pending.
func (m *MySQLTransferStore) Complete(ctx context.Context, id int64, actorID int64, mvs []domain.Movement, now time.Time) ([]domain.LedgerEntry, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.flipStatusTx(ctx, tx, id, domain.TransferCompleted, actorID, now); err != nil {
		return nil, err
	}

	entries, err := applyMovementsTx(ctx, tx, mvs, now)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations SET released_at = ?
		WHERE reference_type = ? AND reference_id = ? AND released_at IS NULL`,
		now, domain.RefTransfer, id,
	)
	if err != nil {
		return nil, fmt.Errorf("release transfer holds: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entries, nil
}

func (m *MySQLTransferStore) Reject(ctx context.Context, id int64, actorID int64, reason string, now time.Time) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE transfers SET status = ?, rejected_by = ?, reject_reason = ?
		WHERE id = ? AND status = ?`,
		domain.TransferRejected, actorID, reason, id, domain.TransferPending,
	)
	if err != nil {
		return fmt.Errorf("reject transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return m.stateError(ctx, tx, id)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations SET released_at = ?
		WHERE reference_type = ? AND reference_id = ? AND released_at IS NULL`,
		now, domain.RefTransfer, id,
	)
	if err != nil {
		return fmt.Errorf("release transfer holds: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLTransferStore) flipStatusTx(ctx context.Context, tx *sql.Tx, id int64, to domain.TransferStatus, actorID int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transfers SET status = ?, approved_by = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		to, actorID, now, id, domain.TransferPending,
	)
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return m.stateError(ctx, tx, id)
	}
	return nil
}

// stateError explains why the guarded status UPDATE matched nothing.
func (m *MySQLTransferStore) stateError(ctx context.Context, tx *sql.Tx, id int64) error {
	var status domain.TransferStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM transfers WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query transfer status: %w", err)
	}
	return fmt.Errorf("transfer %d is %s: %w", id, status, domain.ErrInvalidTransferState)
}

func (m *MySQLTransferStore) SetLastError(ctx context.Context, id int64, msg string) error {
	_, err := m.db.ExecContext(ctx, `UPDATE transfers SET last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("record transfer error: %w", err)
	}
	return nil
}

func (m *MySQLTransferStore) GetDocument(ctx context.Context, id int64) (*domain.TransferDocument, error) {
	tr, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, nil
	}

	doc := &domain.TransferDocument{Transfer: *tr}
	if doc.SourceName, err = m.directory.LocationName(ctx, tr.Source); err != nil {
		return nil, err
	}
	if doc.DestinationName, err = m.directory.LocationName(ctx, tr.Destination); err != nil {
		return nil, err
	}
	return doc, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (*domain.Transfer, error) {
	var (
		tr          domain.Transfer
		note        sql.NullString
		lastError   sql.NullString
		reason      sql.NullString
		approvedBy  sql.NullInt64
		rejectedBy  sql.NullInt64
		completedAt sql.NullTime
	)
	err := row.Scan(
		&tr.ID, &tr.ReferenceCode, &tr.Source.Type, &tr.Source.ID,
		&tr.Destination.Type, &tr.Destination.ID, &tr.Status,
		&note, &lastError, &reason, &tr.CreatedBy,
		&approvedBy, &rejectedBy, &tr.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	tr.Note = note.String
	tr.LastError = lastError.String
	tr.RejectReason = reason.String
	tr.ApprovedBy = approvedBy.Int64
	tr.RejectedBy = rejectedBy.Int64
	if completedAt.Valid {
		tr.CompletedAt = &completedAt.Time
	}
	return &tr, nil
}
