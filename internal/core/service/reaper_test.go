package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

func newReaperFixture(batch int) (*Reaper, *memState, *memReservations, *memCache) {
	state := newMemState()
	repo := &memReservations{state}
	cache := newMemCache()
	r := NewReaper(repo, cache, zerolog.Nop(), time.Minute, batch)
	return r, state, repo, cache
}

func insertExpired(repo *memReservations, key domain.StockKey, n int) {
	for i := 0; i < n; i++ {
		repo.insert(domain.Reservation{
			ID:        uuid.NewString(),
			Key:       key,
			Quantity:  decimal.NewFromInt(1),
			Reference: domain.Reference{Type: domain.RefSale, ID: int64(i)},
			ExpiresAt: time.Now().Add(-time.Minute),
			CreatedBy: 1,
			CreatedAt: time.Now().Add(-time.Hour),
		})
	}
}

func TestRunOnce_SweepsInBatches(t *testing.T) {
	r, state, repo, _ := newReaperFixture(2)
	key := testKey()
	state.seedStock(key, 100)
	insertExpired(repo, key, 5)

	released, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if released != 5 {
		t.Errorf("expected 5 released across batches, got %d", released)
	}

	reserved, _ := repo.SumActive(context.Background(), key, time.Now())
	if !reserved.IsZero() {
		t.Errorf("expected no active holds after sweep, got %s", reserved)
	}
}

func TestRunOnce_SecondSweepFindsNothing(t *testing.T) {
	r, state, repo, _ := newReaperFixture(100)
	key := testKey()
	state.seedStock(key, 100)
	insertExpired(repo, key, 3)

	if n, err := r.RunOnce(context.Background()); err != nil || n != 3 {
		t.Fatalf("first sweep: released %d, err %v", n, err)
	}
	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on repeat sweep, got %d", n)
	}
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	r, state, repo, cache := newReaperFixture(100)
	key := testKey()
	state.seedStock(key, 100)
	insertExpired(repo, key, 2)

	if ok, _ := cache.AcquireSweepLock(context.Background(), "other-worker", time.Minute); !ok {
		t.Fatal("failed to seize lock for the test")
	}

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected skip while lock held, got %d released", n)
	}

	due, _ := repo.CountDue(context.Background(), time.Now())
	if due != 2 {
		t.Errorf("expected 2 holds still due, got %d", due)
	}

	// The lock owner finishes; the next sweep proceeds.
	if err := cache.ReleaseSweepLock(context.Background(), "other-worker"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if n, err := r.RunOnce(context.Background()); err != nil || n != 2 {
		t.Errorf("expected 2 released after lock freed, got %d (%v)", n, err)
	}
}

func TestDryRun_DoesNotMutate(t *testing.T) {
	r, state, repo, _ := newReaperFixture(100)
	key := testKey()
	state.seedStock(key, 100)
	insertExpired(repo, key, 4)

	due, err := r.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	if due != 4 {
		t.Errorf("expected 4 due, got %d", due)
	}

	// Still due afterwards.
	if due, _ = repo.CountDue(context.Background(), time.Now()); due != 4 {
		t.Errorf("DryRun mutated state: %d due", due)
	}
}
