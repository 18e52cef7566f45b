package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferApproved  TransferStatus = "approved"
	TransferCompleted TransferStatus = "completed"
	TransferRejected  TransferStatus = "rejected"
)

// TransferItem is one line of a transfer. Lines are immutable once the
// transfer leaves pending.
type TransferItem struct {
	ItemID   int64
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// Transfer moves a set of item quantities from one location to another
// through an approval workflow. Allowed transitions: pending -> completed
// (approval executes immediately), pending -> rejected. Completed and
// rejected are terminal.
type Transfer struct {
	ID            int64
	ReferenceCode string
	Source        Location
	Destination   Location
	Status        TransferStatus
	Note          string
	LastError     string
	RejectReason  string
	CreatedBy     int64
	ApprovedBy    int64
	RejectedBy    int64
	Items         []TransferItem
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

func NewTransferCode() string {
	return "TRF-" + uuid.NewString()
}

// Approvable reports whether the transfer may be approved and executed.
func (t *Transfer) Approvable() error {
	if t.Status != TransferPending {
		return fmt.Errorf("transfer %s is %s: %w", t.ReferenceCode, t.Status, ErrInvalidTransferState)
	}
	return nil
}

// Rejectable reports whether the transfer may be rejected.
func (t *Transfer) Rejectable() error {
	if t.Status != TransferPending {
		return fmt.Errorf("transfer %s is %s: %w", t.ReferenceCode, t.Status, ErrInvalidTransferState)
	}
	return nil
}

// TransferDocument is the read-only projection consumed by print/PDF
// layers: the transfer plus resolved location names.
type TransferDocument struct {
	Transfer
	SourceName      string
	DestinationName string
}
