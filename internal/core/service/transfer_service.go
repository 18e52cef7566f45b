package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
	"github.com/hirebirhan/amtradingplc-sub002/internal/port"
)

const defaultHoldTTL = 24 * time.Hour

// TransferService drives the transfer state machine. Approval executes
// immediately: the status flip, every item's paired movements and the hold
// release commit in one repository transaction, so a transfer can never be
// left half-moved.
type TransferService struct {
	transfers    port.TransferRepository
	reservations port.ReservationRepository
	cache        port.CacheRepository
	logger       zerolog.Logger
}

func NewTransferService(transfers port.TransferRepository, reservations port.ReservationRepository, cache port.CacheRepository, logger zerolog.Logger) *TransferService {
	return &TransferService{
		transfers:    transfers,
		reservations: reservations,
		cache:        cache,
		logger:       logger.With().Str("component", "transfer").Logger(),
	}
}

type CreateTransferInput struct {
	Source      domain.Location
	Destination domain.Location
	Items       []domain.TransferItem
	Note        string
	ActorID     int64

	// Hold places a per-item reservation at the source so the stock stays
	// promised to this transfer until it is approved or rejected.
	Hold    bool
	HoldTTL time.Duration
}

// Create validates and persists a pending transfer. With Hold set, holds
// that cannot be placed auto-reject the transfer and surface
// domain.ErrInsufficientAvailableStock naming the item.
func (s *TransferService) Create(ctx context.Context, input CreateTransferInput) (*domain.Transfer, error) {
	if err := validateTransferInput(input); err != nil {
		return nil, err
	}

	tr := &domain.Transfer{
		ReferenceCode: domain.NewTransferCode(),
		Source:        input.Source,
		Destination:   input.Destination,
		Status:        domain.TransferPending,
		Note:          input.Note,
		CreatedBy:     input.ActorID,
		Items:         input.Items,
	}

	if err := s.transfers.Create(ctx, tr); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	if input.Hold {
		if err := s.holdItems(ctx, tr, input); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("transfer", tr.ReferenceCode).
		Stringer("source", tr.Source).
		Stringer("destination", tr.Destination).
		Int("items", len(tr.Items)).
		Bool("held", input.Hold).
		Msg("transfer created")

	return tr, nil
}

func (s *TransferService) holdItems(ctx context.Context, tr *domain.Transfer, input CreateTransferInput) error {
	ttl := input.HoldTTL
	if ttl <= 0 {
		ttl = defaultHoldTTL
	}
	ref := domain.Reference{Type: domain.RefTransfer, ID: tr.ID}
	now := time.Now()

	for _, item := range tr.Items {
		res := domain.Reservation{
			ID:        uuid.NewString(),
			Key:       domain.KeyAt(item.ItemID, tr.Source),
			Quantity:  item.Quantity,
			Reference: ref,
			ExpiresAt: now.Add(ttl),
			CreatedBy: input.ActorID,
			CreatedAt: now,
		}
		if err := s.reservations.Create(ctx, res); err != nil {
			// Back out holds already placed and close the transfer so the
			// approval screen never shows an unbacked pending transfer.
			if _, relErr := s.reservations.ReleaseByReference(ctx, ref, time.Now()); relErr != nil {
				s.logger.Error().Err(relErr).Str("transfer", tr.ReferenceCode).Msg("failed to back out transfer holds")
			}
			reason := fmt.Sprintf("hold failed for item %d: %v", item.ItemID, err)
			if rejErr := s.transfers.Reject(ctx, tr.ID, input.ActorID, reason, time.Now()); rejErr != nil {
				s.logger.Error().Err(rejErr).Str("transfer", tr.ReferenceCode).Msg("failed to reject transfer after hold failure")
			} else {
				tr.Status = domain.TransferRejected
				tr.RejectReason = reason
			}
			return fmt.Errorf("hold for item %d: %w", item.ItemID, err)
		}
	}
	return nil
}

// Approve runs the combined approve-and-execute transition: for every item
// a negative movement at the source and a positive one at the destination,
// both referencing this transfer, all-or-nothing. On insufficient stock or
// a storage failure nothing moves and the transfer stays pending with the
// error recorded on it.
func (s *TransferService) Approve(ctx context.Context, id int64, actorID int64) (*domain.Transfer, error) {
	tr, err := s.transfers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}
	if err := tr.Approvable(); err != nil {
		return nil, err
	}

	mvs := make([]domain.Movement, 0, len(tr.Items)*2)
	ref := domain.Reference{Type: domain.RefTransfer, ID: tr.ID}
	for _, item := range tr.Items {
		mvs = append(mvs,
			domain.Movement{
				Key:       domain.KeyAt(item.ItemID, tr.Source),
				Delta:     item.Quantity.Neg(),
				Reference: ref,
				ActorID:   actorID,
			},
			domain.Movement{
				Key:       domain.KeyAt(item.ItemID, tr.Destination),
				Delta:     item.Quantity,
				Reference: ref,
				ActorID:   actorID,
			},
		)
	}

	entries, err := s.transfers.Complete(ctx, tr.ID, actorID, mvs, time.Now())
	if err != nil {
		return nil, s.executionError(ctx, tr, err)
	}

	keys := make([]domain.StockKey, 0, len(mvs))
	for _, mv := range mvs {
		keys = append(keys, mv.Key)
	}
	if cacheErr := s.cache.InvalidateQuantity(ctx, keys...); cacheErr != nil {
		s.logger.Warn().Err(cacheErr).Str("transfer", tr.ReferenceCode).Msg("quantity cache invalidation failed")
	}

	tr, err = s.transfers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer", tr.ReferenceCode).
		Int64("actor", actorID).
		Int("ledger_entries", len(entries)).
		Msg("transfer completed")

	return tr, nil
}

// executionError classifies a failed Complete call and records it on the
// transfer row (best effort, after the rollback).
func (s *TransferService) executionError(ctx context.Context, tr *domain.Transfer, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTransferState):
		return err
	case errors.Is(err, domain.ErrInsufficientStock):
		// Expected business outcome: the whole transfer rolled back.
	case errors.Is(err, domain.ErrLedgerContinuity):
		s.logger.Error().Err(err).Str("transfer", tr.ReferenceCode).Msg("ledger continuity violated during transfer")
	default:
		err = fmt.Errorf("transfer %s: %v: %w", tr.ReferenceCode, err, domain.ErrTransferExecutionFailed)
	}

	if recErr := s.transfers.SetLastError(ctx, tr.ID, err.Error()); recErr != nil {
		s.logger.Warn().Err(recErr).Str("transfer", tr.ReferenceCode).Msg("failed to record transfer error")
	}
	return err
}

// Reject closes a pending transfer without moving stock and releases its
// holds.
func (s *TransferService) Reject(ctx context.Context, id int64, actorID int64, reason string) (*domain.Transfer, error) {
	tr, err := s.transfers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}
	if err := tr.Rejectable(); err != nil {
		return nil, err
	}

	if err := s.transfers.Reject(ctx, id, actorID, reason, time.Now()); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer", tr.ReferenceCode).
		Int64("actor", actorID).
		Str("reason", reason).
		Msg("transfer rejected")

	return s.transfers.FindByID(ctx, id)
}

// Get returns a transfer by ID, nil if unknown.
func (s *TransferService) Get(ctx context.Context, id int64) (*domain.Transfer, error) {
	return s.transfers.FindByID(ctx, id)
}

// GetByCode returns a transfer by reference code, nil if unknown.
func (s *TransferService) GetByCode(ctx context.Context, code string) (*domain.Transfer, error) {
	return s.transfers.FindByCode(ctx, code)
}

// List returns transfers in a status, newest first.
func (s *TransferService) List(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	return s.transfers.ListByStatus(ctx, status, limit)
}

// Document returns the print projection with resolved location names.
func (s *TransferService) Document(ctx context.Context, id int64) (*domain.TransferDocument, error) {
	doc, err := s.transfers.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func validateTransferInput(input CreateTransferInput) error {
	if !input.Source.Type.Valid() || input.Source.ID <= 0 {
		return fmt.Errorf("invalid source location %s", input.Source)
	}
	if !input.Destination.Type.Valid() || input.Destination.ID <= 0 {
		return fmt.Errorf("invalid destination location %s", input.Destination)
	}
	if input.Source == input.Destination {
		return errors.New("source and destination must differ")
	}
	if len(input.Items) == 0 {
		return errors.New("transfer requires at least one item")
	}
	seen := make(map[int64]bool, len(input.Items))
	for _, item := range input.Items {
		if item.ItemID <= 0 {
			return fmt.Errorf("invalid item id %d", item.ItemID)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("item %d quantity must be positive", item.ItemID)
		}
		if seen[item.ItemID] {
			return fmt.Errorf("item %d listed twice", item.ItemID)
		}
		seen[item.ItemID] = true
	}
	return nil
}
