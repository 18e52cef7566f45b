package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hirebirhan/amtradingplc-sub002/internal/port"
)

const (
	defaultSweepBatch    = 500
	defaultSweepInterval = time.Minute
	sweepLockTTL         = 30 * time.Second
)

// Reaper periodically releases reservations past their expiry so available
// stock recovers from abandoned holds. Sweeps are idempotent; a best-effort
// cache lock makes overlapping workers (cron plus manual trigger) skip
// rather than rescan.
type Reaper struct {
	reservations port.ReservationRepository
	cache        port.CacheRepository
	logger       zerolog.Logger
	interval     time.Duration
	batchSize    int
	owner        string
}

func NewReaper(reservations port.ReservationRepository, cache port.CacheRepository, logger zerolog.Logger, interval time.Duration, batchSize int) *Reaper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	return &Reaper{
		reservations: reservations,
		cache:        cache,
		logger:       logger.With().Str("component", "reaper").Logger(),
		interval:     interval,
		batchSize:    batchSize,
		owner:        uuid.NewString(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Int("batch", r.batchSize).Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// RunOnce performs one sweep in bounded batches and returns how many
// reservations it released. Returns 0 without sweeping when another worker
// holds the lock.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	ok, err := r.cache.AcquireSweepLock(ctx, r.owner, sweepLockTTL)
	if err != nil {
		// The lock is an optimization; the sweep itself is safe to repeat.
		r.logger.Warn().Err(err).Msg("sweep lock unavailable, sweeping anyway")
	} else if !ok {
		r.logger.Debug().Msg("sweep lock held elsewhere, skipping")
		return 0, nil
	} else {
		defer func() {
			if err := r.cache.ReleaseSweepLock(ctx, r.owner); err != nil {
				r.logger.Warn().Err(err).Msg("sweep lock release failed")
			}
		}()
	}

	total := 0
	for {
		n, err := r.reservations.ExpireDue(ctx, time.Now(), r.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize {
			break
		}
	}

	if total > 0 {
		r.logger.Info().Int("released", total).Msg("expired reservations released")
	}
	return total, nil
}

// DryRun reports what a sweep would release right now, without mutating.
func (r *Reaper) DryRun(ctx context.Context) (int, error) {
	return r.reservations.CountDue(ctx, time.Now())
}
