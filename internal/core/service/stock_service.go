package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
	"github.com/hirebirhan/amtradingplc-sub002/internal/port"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// StockService exposes the ledger read side and the direct-movement write
// side (adjustments, sale fulfillment, purchase receipts). Transfers go
// through TransferService, which shares the same movement primitive.
type StockService struct {
	ledger       port.LedgerRepository
	reservations port.ReservationRepository
	cache        port.CacheRepository
	logger       zerolog.Logger
}

func NewStockService(ledger port.LedgerRepository, reservations port.ReservationRepository, cache port.CacheRepository, logger zerolog.Logger) *StockService {
	return &StockService{
		ledger:       ledger,
		reservations: reservations,
		cache:        cache,
		logger:       logger.With().Str("component", "stock").Logger(),
	}
}

// StockLevel is the read projection for one key.
type StockLevel struct {
	Key          domain.StockKey
	OnHand       decimal.Decimal
	Reserved     decimal.Decimal
	Available    decimal.Decimal
	ReorderLevel decimal.Decimal
	BelowReorder bool
}

// GetQuantity returns the on-hand quantity, served from cache when fresh.
func (s *StockService) GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	if qty, ok, err := s.cache.GetQuantity(ctx, key); err == nil && ok {
		return qty, nil
	}

	qty, err := s.ledger.GetQuantity(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.cache.SetQuantity(ctx, key, qty); err != nil {
		s.logger.Warn().Err(err).Stringer("key", key).Msg("quantity cache write failed")
	}

	return qty, nil
}

// GetLevel returns on-hand, reserved and available for a key in one shot.
func (s *StockService) GetLevel(ctx context.Context, key domain.StockKey) (StockLevel, error) {
	if err := validateKey(key); err != nil {
		return StockLevel{}, err
	}

	level := StockLevel{Key: key}

	rec, err := s.ledger.GetStockRecord(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	if rec != nil {
		level.OnHand = rec.Quantity
		level.ReorderLevel = rec.ReorderLevel
		level.BelowReorder = rec.BelowReorder()
	}

	reserved, err := s.reservations.SumActive(ctx, key, time.Now())
	if err != nil {
		return StockLevel{}, err
	}
	level.Reserved = reserved
	level.Available = level.OnHand.Sub(reserved)

	return level, nil
}

// RecordMovement applies one direct movement. requestID, when non-empty, is
// an idempotency key: retrying the same request is refused with
// domain.ErrDuplicateRequest instead of double-applying the delta.
func (s *StockService) RecordMovement(ctx context.Context, requestID string, mv domain.Movement) (domain.LedgerEntry, error) {
	if err := validateKey(mv.Key); err != nil {
		return domain.LedgerEntry{}, err
	}
	if !mv.Reference.Type.Valid() {
		return domain.LedgerEntry{}, fmt.Errorf("invalid reference type %q", mv.Reference.Type)
	}
	if mv.Delta.IsZero() {
		return domain.LedgerEntry{}, errors.New("movement delta must be non-zero")
	}

	if requestID != "" {
		ok, err := s.cache.SetIdempotency(ctx, "movement:"+requestID)
		if err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return domain.LedgerEntry{}, domain.ErrDuplicateRequest
		}
	}

	entry, err := s.ledger.RecordMovement(ctx, mv)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerContinuity) {
			s.logger.Error().Err(err).Stringer("key", mv.Key).Msg("ledger continuity violated")
		}
		return domain.LedgerEntry{}, err
	}

	if err := s.cache.InvalidateQuantity(ctx, mv.Key); err != nil {
		s.logger.Warn().Err(err).Stringer("key", mv.Key).Msg("quantity cache invalidation failed")
	}

	s.alertIfOverReserved(ctx, mv.Key, entry.QuantityAfter)

	s.logger.Info().
		Stringer("key", mv.Key).
		Str("delta", mv.Delta.String()).
		Str("reference", string(mv.Reference.Type)).
		Int64("actor", mv.ActorID).
		Msg("movement recorded")

	return entry, nil
}

// QueryMovements returns ledger history for the read-side report layer.
func (s *StockService) QueryMovements(ctx context.Context, f domain.MovementFilter) ([]domain.LedgerEntry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	return s.ledger.QueryMovements(ctx, f)
}

// alertIfOverReserved flags the documented over-commit condition: a direct
// decrease is allowed to push active holds above on-hand, but it must be
// surfaced as a business alert.
func (s *StockService) alertIfOverReserved(ctx context.Context, key domain.StockKey, onHand decimal.Decimal) {
	reserved, err := s.reservations.SumActive(ctx, key, time.Now())
	if err != nil {
		return
	}
	if reserved.GreaterThan(onHand) {
		s.logger.Warn().
			Stringer("key", key).
			Str("reserved", reserved.String()).
			Str("on_hand", onHand.String()).
			Msg("active reservations exceed on-hand stock")
	}
}

func validateKey(key domain.StockKey) error {
	if key.ItemID <= 0 {
		return fmt.Errorf("invalid item id %d", key.ItemID)
	}
	if !key.LocationType.Valid() {
		return fmt.Errorf("invalid location type %q", key.LocationType)
	}
	if key.LocationID <= 0 {
		return fmt.Errorf("invalid location id %d", key.LocationID)
	}
	return nil
}
