package port

import (
	"context"
	"time"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

type TransferRepository interface {
	// Create persists a pending transfer with its items and assigns its ID.
	Create(ctx context.Context, tr *domain.Transfer) error

	// FindByID returns the transfer with items, nil if unknown.
	FindByID(ctx context.Context, id int64) (*domain.Transfer, error)

	// FindByCode returns the transfer by reference code, nil if unknown.
	FindByCode(ctx context.Context, code string) (*domain.Transfer, error)

	// ListByStatus returns transfers in a status, newest first.
	ListByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error)

	// Complete flips the transfer from pending to completed, applies every
	// movement and its ledger entry, and releases the transfer's holds — all
	// inside one transaction. Any failure rolls the whole transaction back
	// and leaves the transfer pending. Fails with
	// domain.ErrInvalidTransferState if the transfer is not pending, or with
	// the movement error (domain.ErrInsufficientStock naming the item).
	Complete(ctx context.Context, id int64, actorID int64, mvs []domain.Movement, now time.Time) ([]domain.LedgerEntry, error)

	// Reject flips the transfer from pending to rejected and releases its
	// holds in one transaction. No stock moves.
	Reject(ctx context.Context, id int64, actorID int64, reason string, now time.Time) error

	// SetLastError records a human-readable execution error on the transfer
	// row for the retry screen. Best effort, outside any transaction.
	SetLastError(ctx context.Context, id int64, msg string) error

	// GetDocument returns the read-only projection with resolved location
	// names, nil if the transfer is unknown.
	GetDocument(ctx context.Context, id int64) (*domain.TransferDocument, error)
}
