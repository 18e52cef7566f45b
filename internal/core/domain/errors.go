package domain

import "errors"

var (
	// ErrInsufficientStock: a movement would take on-hand below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientAvailableStock: a reservation would exceed on-hand
	// minus the active holds for the key.
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")

	// ErrLedgerContinuity: a movement found the stock quantity out of step
	// with the last ledger entry. Indicates a concurrency-control bug or an
	// out-of-band write; never retried, always logged as a critical fault.
	ErrLedgerContinuity = errors.New("ledger continuity violation")

	// ErrTransferExecutionFailed: the transactional multi-item move failed
	// for an operational reason. Nothing moved; the transfer is unchanged
	// and safe to retry.
	ErrTransferExecutionFailed = errors.New("transfer execution failed")

	// ErrInvalidTransferState: a transition not allowed from the
	// transfer's current status.
	ErrInvalidTransferState = errors.New("invalid transfer state")

	// ErrDuplicateRequest: an adjustment carried a request ID that was
	// already applied.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrNotFound: the referenced record does not exist.
	ErrNotFound = errors.New("not found")
)
