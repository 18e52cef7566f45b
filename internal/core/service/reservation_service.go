package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
	"github.com/hirebirhan/amtradingplc-sub002/internal/port"
)

// ReservationService manages soft holds against available stock. Holds are
// advisory: they gate what Reserve will promise next, they never lock the
// underlying stock record.
type ReservationService struct {
	repo   port.ReservationRepository
	ledger port.LedgerRepository
	logger zerolog.Logger
}

func NewReservationService(repo port.ReservationRepository, ledger port.LedgerRepository, logger zerolog.Logger) *ReservationService {
	return &ReservationService{
		repo:   repo,
		ledger: ledger,
		logger: logger.With().Str("component", "reservation").Logger(),
	}
}

type ReserveInput struct {
	Key       domain.StockKey
	Quantity  decimal.Decimal
	Reference domain.Reference
	TTL       time.Duration
	ActorID   int64
}

// Reserve places a hold of input.Quantity for input.TTL. The availability
// check (on-hand minus active holds) runs inside the repository transaction
// so two concurrent holds can never both pass it.
func (s *ReservationService) Reserve(ctx context.Context, input ReserveInput) (*domain.Reservation, error) {
	if err := validateKey(input.Key); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, errors.New("reservation quantity must be positive")
	}
	if input.TTL <= 0 {
		return nil, errors.New("reservation ttl must be positive")
	}
	if !input.Reference.Type.Valid() {
		return nil, fmt.Errorf("invalid reference type %q", input.Reference.Type)
	}

	now := time.Now()
	res := domain.Reservation{
		ID:        uuid.NewString(),
		Key:       input.Key,
		Quantity:  input.Quantity,
		Reference: input.Reference,
		ExpiresAt: now.Add(input.TTL),
		CreatedBy: input.ActorID,
		CreatedAt: now,
	}

	if err := s.repo.Create(ctx, res); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("reservation", res.ID).
		Stringer("key", res.Key).
		Str("quantity", res.Quantity.String()).
		Time("expires_at", res.ExpiresAt).
		Msg("reservation placed")

	return &res, nil
}

// Release marks a hold inactive. Idempotent: releasing twice, or releasing
// an already-expired hold, succeeds without effect.
func (s *ReservationService) Release(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("reservation id required")
	}
	return s.repo.Release(ctx, id, time.Now())
}

// GetReservedQuantity returns the active hold total for a key.
func (s *ReservationService) GetReservedQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	if err := validateKey(key); err != nil {
		return decimal.Zero, err
	}
	return s.repo.SumActive(ctx, key, time.Now())
}

// GetAvailable returns on-hand minus active holds for a key.
func (s *ReservationService) GetAvailable(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	if err := validateKey(key); err != nil {
		return decimal.Zero, err
	}
	onHand, err := s.ledger.GetQuantity(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	reserved, err := s.repo.SumActive(ctx, key, time.Now())
	if err != nil {
		return decimal.Zero, err
	}
	return onHand.Sub(reserved), nil
}

// ExpireDue releases up to limit holds past their expiry. The sweep is
// set-based, so overlapping callers release each hold at most once.
func (s *ReservationService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	return s.repo.ExpireDue(ctx, now, limit)
}

// CountDue reports what ExpireDue would release right now, for dry runs.
func (s *ReservationService) CountDue(ctx context.Context, now time.Time) (int, error) {
	return s.repo.CountDue(ctx, now)
}
