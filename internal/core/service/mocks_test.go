package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
)

// In-memory implementations of the ports, mirroring the MySQL adapter's
// semantics (continuity check, non-negative guard, availability re-check,
// all-or-nothing batches) under a single mutex.

type memState struct {
	mu           sync.Mutex
	stock        map[domain.StockKey]decimal.Decimal
	ledger       []domain.LedgerEntry
	nextEntryID  int64
	reservations map[string]domain.Reservation
	transfers    map[int64]*domain.Transfer
	nextTransfer int64
}

func newMemState() *memState {
	return &memState{
		stock:        make(map[domain.StockKey]decimal.Decimal),
		reservations: make(map[string]domain.Reservation),
		transfers:    make(map[int64]*domain.Transfer),
	}
}

// seedStock records an initial quantity through the movement path so the
// ledger chain stays consistent.
func (s *memState) seedStock(key domain.StockKey, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.applyLocked(domain.Movement{
		Key:       key,
		Delta:     decimal.NewFromInt(qty),
		Reference: domain.Reference{Type: domain.RefAdjustment, ID: 0},
		ActorID:   1,
	}, time.Now()); err != nil {
		panic(err)
	}
}

func (s *memState) applyLocked(mv domain.Movement, now time.Time) (domain.LedgerEntry, error) {
	before := s.stock[mv.Key]

	var lastAfter decimal.Decimal
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].Key == mv.Key {
			lastAfter = s.ledger[i].QuantityAfter
			break
		}
	}
	if !lastAfter.Equal(before) {
		return domain.LedgerEntry{}, fmt.Errorf("%s: record has %s, ledger tail has %s: %w",
			mv.Key, before, lastAfter, domain.ErrLedgerContinuity)
	}

	after := before.Add(mv.Delta)
	if after.IsNegative() && !mv.AllowNegative {
		return domain.LedgerEntry{}, fmt.Errorf("%s: have %s, requested %s: %w",
			mv.Key, before, mv.Delta.Abs(), domain.ErrInsufficientStock)
	}

	s.stock[mv.Key] = after
	s.nextEntryID++
	entry := domain.LedgerEntry{
		ID:             s.nextEntryID,
		Key:            mv.Key,
		QuantityBefore: before,
		QuantityChange: mv.Delta,
		QuantityAfter:  after,
		Reference:      mv.Reference,
		ActorID:        mv.ActorID,
		CreatedAt:      now,
	}
	s.ledger = append(s.ledger, entry)
	return entry, nil
}

func (s *memState) applyBatchLocked(mvs []domain.Movement, now time.Time) ([]domain.LedgerEntry, error) {
	stockBackup := make(map[domain.StockKey]decimal.Decimal, len(s.stock))
	for k, v := range s.stock {
		stockBackup[k] = v
	}
	ledgerLen := len(s.ledger)
	entryID := s.nextEntryID

	entries := make([]domain.LedgerEntry, 0, len(mvs))
	for _, mv := range mvs {
		entry, err := s.applyLocked(mv, now)
		if err != nil {
			s.stock = stockBackup
			s.ledger = s.ledger[:ledgerLen]
			s.nextEntryID = entryID
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *memState) sumActiveLocked(key domain.StockKey, now time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, res := range s.reservations {
		if res.Key == key && res.Active(now) {
			sum = sum.Add(res.Quantity)
		}
	}
	return sum
}

func (s *memState) entriesForReference(ref domain.Reference) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.Reference == ref {
			out = append(out, e)
		}
	}
	return out
}

func (s *memState) quantity(key domain.StockKey) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[key]
}

type memLedger struct{ state *memState }

func (m *memLedger) RecordMovement(ctx context.Context, mv domain.Movement) (domain.LedgerEntry, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.applyLocked(mv, time.Now())
}

func (m *memLedger) RecordMovements(ctx context.Context, mvs []domain.Movement) ([]domain.LedgerEntry, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.applyBatchLocked(mvs, time.Now())
}

func (m *memLedger) GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	return m.state.quantity(key), nil
}

func (m *memLedger) GetStockRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	qty, ok := m.state.stock[key]
	if !ok {
		return nil, nil
	}
	return &domain.StockRecord{Key: key, Quantity: qty}, nil
}

func (m *memLedger) QueryMovements(ctx context.Context, f domain.MovementFilter) ([]domain.LedgerEntry, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	var out []domain.LedgerEntry
	for _, e := range m.state.ledger {
		if f.ItemID > 0 && e.Key.ItemID != f.ItemID {
			continue
		}
		if f.LocationType != "" && e.Key.LocationType != f.LocationType {
			continue
		}
		if f.LocationID > 0 && e.Key.LocationID != f.LocationID {
			continue
		}
		if f.ReferenceType != "" && e.Reference.Type != f.ReferenceType {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type memReservations struct{ state *memState }

func (m *memReservations) Create(ctx context.Context, res domain.Reservation) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	onHand := m.state.stock[res.Key]
	reserved := m.state.sumActiveLocked(res.Key, res.CreatedAt)
	available := onHand.Sub(reserved)
	if res.Quantity.GreaterThan(available) {
		return fmt.Errorf("%s: available %s, requested %s: %w",
			res.Key, available, res.Quantity, domain.ErrInsufficientAvailableStock)
	}
	m.state.reservations[res.ID] = res
	return nil
}

func (m *memReservations) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	res, ok := m.state.reservations[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (m *memReservations) Release(ctx context.Context, id string, now time.Time) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	res, ok := m.state.reservations[id]
	if !ok || res.ReleasedAt != nil {
		return nil
	}
	res.ReleasedAt = &now
	m.state.reservations[id] = res
	return nil
}

func (m *memReservations) ReleaseByReference(ctx context.Context, ref domain.Reference, now time.Time) (int, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.releaseByReferenceLocked(ref, now), nil
}

func (s *memState) releaseByReferenceLocked(ref domain.Reference, now time.Time) int {
	n := 0
	for id, res := range s.reservations {
		if res.Reference == ref && res.ReleasedAt == nil {
			res.ReleasedAt = &now
			s.reservations[id] = res
			n++
		}
	}
	return n
}

func (m *memReservations) SumActive(ctx context.Context, key domain.StockKey, now time.Time) (decimal.Decimal, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.sumActiveLocked(key, now), nil
}

func (m *memReservations) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	n := 0
	for id, res := range m.state.reservations {
		if n >= limit {
			break
		}
		if res.ReleasedAt == nil && !res.ExpiresAt.After(now) {
			released := now
			res.ReleasedAt = &released
			m.state.reservations[id] = res
			n++
		}
	}
	return n, nil
}

func (m *memReservations) CountDue(ctx context.Context, now time.Time) (int, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	n := 0
	for _, res := range m.state.reservations {
		if res.ReleasedAt == nil && !res.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// insert bypasses the availability check, for crafting expired holds.
func (m *memReservations) insert(res domain.Reservation) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.reservations[res.ID] = res
}

type memTransfers struct{ state *memState }

func (m *memTransfers) Create(ctx context.Context, tr *domain.Transfer) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.nextTransfer++
	tr.ID = m.state.nextTransfer
	tr.Status = domain.TransferPending
	tr.CreatedAt = time.Now()
	cp := *tr
	cp.Items = append([]domain.TransferItem(nil), tr.Items...)
	m.state.transfers[tr.ID] = &cp
	return nil
}

func (m *memTransfers) FindByID(ctx context.Context, id int64) (*domain.Transfer, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	tr, ok := m.state.transfers[id]
	if !ok {
		return nil, nil
	}
	cp := *tr
	cp.Items = append([]domain.TransferItem(nil), tr.Items...)
	return &cp, nil
}

func (m *memTransfers) FindByCode(ctx context.Context, code string) (*domain.Transfer, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	for _, tr := range m.state.transfers {
		if tr.ReferenceCode == code {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTransfers) ListByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var out []domain.Transfer
	for _, tr := range m.state.transfers {
		if tr.Status == status {
			out = append(out, *tr)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTransfers) Complete(ctx context.Context, id int64, actorID int64, mvs []domain.Movement, now time.Time) ([]domain.LedgerEntry, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	tr, ok := m.state.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}
	if tr.Status != domain.TransferPending {
		return nil, fmt.Errorf("transfer %d is %s: %w", id, tr.Status, domain.ErrInvalidTransferState)
	}

	entries, err := m.state.applyBatchLocked(mvs, now)
	if err != nil {
		return nil, err
	}

	tr.Status = domain.TransferCompleted
	tr.ApprovedBy = actorID
	tr.CompletedAt = &now
	m.state.releaseByReferenceLocked(domain.Reference{Type: domain.RefTransfer, ID: id}, now)
	return entries, nil
}

func (m *memTransfers) Reject(ctx context.Context, id int64, actorID int64, reason string, now time.Time) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	tr, ok := m.state.transfers[id]
	if !ok {
		return fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}
	if tr.Status != domain.TransferPending {
		return fmt.Errorf("transfer %d is %s: %w", id, tr.Status, domain.ErrInvalidTransferState)
	}
	tr.Status = domain.TransferRejected
	tr.RejectedBy = actorID
	tr.RejectReason = reason
	m.state.releaseByReferenceLocked(domain.Reference{Type: domain.RefTransfer, ID: id}, now)
	return nil
}

func (m *memTransfers) SetLastError(ctx context.Context, id int64, msg string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	if tr, ok := m.state.transfers[id]; ok {
		tr.LastError = msg
	}
	return nil
}

func (m *memTransfers) GetDocument(ctx context.Context, id int64) (*domain.TransferDocument, error) {
	tr, err := m.FindByID(ctx, id)
	if err != nil || tr == nil {
		return nil, err
	}
	return &domain.TransferDocument{
		Transfer:        *tr,
		SourceName:      tr.Source.String(),
		DestinationName: tr.Destination.String(),
	}, nil
}

type memCache struct {
	mu          sync.Mutex
	quantities  map[domain.StockKey]decimal.Decimal
	idempotency map[string]bool
	lockOwner   string
	lockBusy    bool
}

func newMemCache() *memCache {
	return &memCache{
		quantities:  make(map[domain.StockKey]decimal.Decimal),
		idempotency: make(map[string]bool),
	}
}

func (c *memCache) GetQuantity(ctx context.Context, key domain.StockKey) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.quantities[key]
	return qty, ok, nil
}

func (c *memCache) SetQuantity(ctx context.Context, key domain.StockKey, qty decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quantities[key] = qty
	return nil
}

func (c *memCache) InvalidateQuantity(ctx context.Context, keys ...domain.StockKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.quantities, key)
	}
	return nil
}

func (c *memCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idempotency[key] {
		return false, nil
	}
	c.idempotency[key] = true
	return true, nil
}

func (c *memCache) AcquireSweepLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockBusy {
		return false, nil
	}
	c.lockBusy = true
	c.lockOwner = owner
	return true, nil
}

func (c *memCache) ReleaseSweepLock(ctx context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockOwner == owner {
		c.lockBusy = false
		c.lockOwner = ""
	}
	return nil
}
