package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// memRepo is an in-memory InventoryRepository with real compare-and-swap
// semantics, so concurrency tests exercise the same conflict behavior the
// MySQL adapter has.
type memRepo struct {
	mu     sync.Mutex
	items  map[string]*domain.InventoryItem
	orders []domain.Order

	getCalls atomic.Int32
	casCalls atomic.Int32

	failGet error
	failCAS error
}

func newMemRepo(items ...domain.InventoryItem) *memRepo {
	r := &memRepo{items: make(map[string]*domain.InventoryItem)}
	for _, item := range items {
		copied := item
		r.items[item.ID] = &copied
	}
	return r
}

func (r *memRepo) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	r.getCalls.Add(1)
	if r.failGet != nil {
		return nil, r.failGet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (r *memRepo) UpdateQuantityCAS(ctx context.Context, itemID string, newQuantity int, expectedVersion int64) (bool, error) {
	r.casCalls.Add(1)
	if r.failCAS != nil {
		return false, r.failCAS
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok || item.Version != expectedVersion {
		return false, nil
	}
	item.Quantity = newQuantity
	item.Version++
	return true, nil
}

func (r *memRepo) ReserveLocked(ctx context.Context, itemID string, quantity int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if item.Quantity < quantity {
		return nil, domain.ErrInsufficientStock
	}
	item.Quantity -= quantity
	item.Version++
	return &domain.Reservation{
		ItemID:    itemID,
		Quantity:  quantity,
		Remaining: item.Quantity,
		Version:   item.Version,
	}, nil
}

func (r *memRepo) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[item.ID]; ok {
		return domain.ErrItemExists
	}
	copied := item
	r.items[item.ID] = &copied
	return nil
}

func (r *memRepo) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.InventoryItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, *item)
	}
	return items, nil
}

func (r *memRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	return nil
}

func (r *memRepo) snapshot(t *testing.T, itemID string) domain.InventoryItem {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		t.Fatalf("item %s missing", itemID)
	}
	return *item
}

// conflictRepo rejects the first n conditional writes, simulating another
// writer committing between the snapshot read and the CAS.
type conflictRepo struct {
	*memRepo
	mu        sync.Mutex
	conflicts int
}

func (r *conflictRepo) UpdateQuantityCAS(ctx context.Context, itemID string, newQuantity int, expectedVersion int64) (bool, error) {
	r.mu.Lock()
	if r.conflicts != 0 {
		r.conflicts--
		// Mimic the interleaved writer the conflict stands for.
		r.memRepo.UpdateQuantityCAS(ctx, itemID, newQuantity, expectedVersion)
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()
	return r.memRepo.UpdateQuantityCAS(ctx, itemID, newQuantity, expectedVersion)
}

func noBackoff(attempt int) time.Duration { return 0 }

func TestReserveStock_Success(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 10, Version: 5})
	ledger := NewLedger(repo, LedgerConfig{Backoff: noBackoff})

	res, err := ledger.ReserveStock(context.Background(), "item-1", 3)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if res.Remaining != 7 {
		t.Errorf("expected remaining 7, got %d", res.Remaining)
	}
	if res.Version != 6 {
		t.Errorf("expected version 6, got %d", res.Version)
	}

	item := repo.snapshot(t, "item-1")
	if item.Quantity != 7 || item.Version != 6 {
		t.Errorf("expected stored (7, v6), got (%d, v%d)", item.Quantity, item.Version)
	}
}

func TestReserveStock_InvalidQuantity(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 10, Version: 0})
	ledger := NewLedger(repo, LedgerConfig{Backoff: noBackoff})

	for _, quantity := range []int{0, -1} {
		_, err := ledger.ReserveStock(context.Background(), "item-1", quantity)
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("quantity %d: expected ErrInvalidQuantity, got %v", quantity, err)
		}
	}

	if repo.getCalls.Load() != 0 {
		t.Error("validation failure must not touch the store")
	}
	item := repo.snapshot(t, "item-1")
	if item.Quantity != 10 || item.Version != 0 {
		t.Errorf("expected unchanged (10, v0), got (%d, v%d)", item.Quantity, item.Version)
	}
}

func TestReserveStock_NotFound(t *testing.T) {
	repo := newMemRepo()
	ledger := NewLedger(repo, LedgerConfig{Backoff: noBackoff})

	_, err := ledger.ReserveStock(context.Background(), "missing", 1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if repo.casCalls.Load() != 0 {
		t.Error("missing item must not reach the conditional write")
	}
}

func TestReserveStock_InsufficientStock(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 1, Version: 3})
	ledger := NewLedger(repo, LedgerConfig{Backoff: noBackoff})

	_, err := ledger.ReserveStock(context.Background(), "item-1", 2)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}

	// A real shortage fails on the first read, without retrying.
	if repo.getCalls.Load() != 1 {
		t.Errorf("expected 1 read, got %d", repo.getCalls.Load())
	}
	item := repo.snapshot(t, "item-1")
	if item.Quantity != 1 || item.Version != 3 {
		t.Errorf("expected unchanged (1, v3), got (%d, v%d)", item.Quantity, item.Version)
	}
}

func TestReserveStock_RetriesOnConflict(t *testing.T) {
	repo := &conflictRepo{
		memRepo:   newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 10, Version: 0}),
		conflicts: 2,
	}
	ledger := NewLedger(repo, LedgerConfig{MaxRetries: 3, Backoff: noBackoff})

	res, err := ledger.ReserveStock(context.Background(), "item-1", 1)
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}

	// Two conflicted attempts applied their simulated writer first, the
	// third attempt committed this reservation.
	item := repo.snapshot(t, "item-1")
	if item.Quantity != 7 {
		t.Errorf("expected quantity 7, got %d", item.Quantity)
	}
	if item.Version != 3 {
		t.Errorf("expected version 3, got %d", item.Version)
	}
	if res.Version != item.Version {
		t.Errorf("reservation version %d does not match stored %d", res.Version, item.Version)
	}
}

func TestReserveStock_ExhaustsRetries(t *testing.T) {
	repo := &conflictRepo{
		memRepo:   newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 10, Version: 0}),
		conflicts: -1, // conflict forever
	}
	ledger := NewLedger(repo, LedgerConfig{MaxRetries: 0, Backoff: noBackoff})

	_, err := ledger.ReserveStock(context.Background(), "item-1", 1)
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}

	// The single state change belongs to the simulated concurrent writer;
	// the exhausted call itself committed nothing.
	item := repo.snapshot(t, "item-1")
	if item.Quantity != 9 || item.Version != 1 {
		t.Errorf("expected (9, v1) from the interleaved writer only, got (%d, v%d)", item.Quantity, item.Version)
	}
}

func TestReserveStock_StorageUnavailable(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 10, Version: 0})
	repo.failGet = fmt.Errorf("query inventory: %w (connection refused)", domain.ErrStorageUnavailable)
	ledger := NewLedger(repo, LedgerConfig{MaxRetries: 5, Backoff: noBackoff})

	_, err := ledger.ReserveStock(context.Background(), "item-1", 1)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}

	// Infrastructure faults are not retried by the ledger.
	if repo.getCalls.Load() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", repo.getCalls.Load())
	}
}

func TestReserveStock_CancelledDuringBackoff(t *testing.T) {
	repo := &conflictRepo{
		memRepo:   newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 10, Version: 0}),
		conflicts: -1,
	}
	ledger := NewLedger(repo, LedgerConfig{
		MaxRetries: 10,
		Backoff:    func(attempt int) time.Duration { return time.Hour },
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := ledger.ReserveStock(ctx, "item-1", 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation did not interrupt backoff, took %v", elapsed)
	}
}

func TestReserveStock_Concurrent(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: initialStock, Version: 0})
	ledger := NewLedger(repo, LedgerConfig{
		MaxRetries: totalRequests,
		Backoff:    func(attempt int) time.Duration { return time.Microsecond },
	})

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.ReserveStock(context.Background(), "item-1", 1)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if soldOutCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d sold-out failures, got %d", totalRequests-initialStock, soldOutCount.Load())
	}

	item := repo.snapshot(t, "item-1")
	if item.Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", item.Quantity)
	}
	if item.Quantity < 0 {
		t.Errorf("quantity went negative: %d", item.Quantity)
	}
	// One version bump per committed decrement, none for conflicts.
	if item.Version != int64(initialStock) {
		t.Errorf("expected version %d, got %d", initialStock, item.Version)
	}
}

func TestReserveStock_TwoContendersOneUnit(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 1, Version: 0})
	ledger := NewLedger(repo, LedgerConfig{MaxRetries: 10, Backoff: noBackoff})

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.ReserveStock(context.Background(), "item-1", 1)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				soldOutCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", successCount.Load())
	}
	if soldOutCount.Load() != 1 {
		t.Errorf("expected exactly 1 sold-out loser, got %d", soldOutCount.Load())
	}

	item := repo.snapshot(t, "item-1")
	if item.Quantity != 0 {
		t.Errorf("expected final quantity 0, got %d", item.Quantity)
	}
	if item.Version != 1 {
		t.Errorf("expected final version 1, got %d", item.Version)
	}
}

func TestReserveStock_Pessimistic(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 5, Version: 2})
	ledger := NewLedger(repo, LedgerConfig{Mode: ReservePessimistic})

	res, err := ledger.ReserveStock(context.Background(), "item-1", 2)
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if res.Remaining != 3 || res.Version != 3 {
		t.Errorf("expected (3, v3), got (%d, v%d)", res.Remaining, res.Version)
	}

	// The optimistic read/CAS path must not have been used at all.
	if repo.getCalls.Load() != 0 || repo.casCalls.Load() != 0 {
		t.Error("pessimistic mode must go through the locked path only")
	}

	_, err = ledger.ReserveStock(context.Background(), "item-1", 10)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestReleaseStock(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 7, Version: 6})
	ledger := NewLedger(repo, LedgerConfig{Backoff: noBackoff})

	if err := ledger.ReleaseStock(context.Background(), "item-1", 3); err != nil {
		t.Fatalf("expected success, got: %v", err)
	}

	item := repo.snapshot(t, "item-1")
	if item.Quantity != 10 || item.Version != 7 {
		t.Errorf("expected (10, v7), got (%d, v%d)", item.Quantity, item.Version)
	}

	if err := ledger.ReleaseStock(context.Background(), "item-1", 0); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestGetItem(t *testing.T) {
	repo := newMemRepo(domain.InventoryItem{ID: "item-1", Quantity: 4, Version: 9})
	ledger := NewLedger(repo, LedgerConfig{})

	item, err := ledger.GetItem(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Quantity != 4 || item.Version != 9 {
		t.Errorf("expected (4, v9), got (%d, v%d)", item.Quantity, item.Version)
	}

	if _, err := ledger.GetItem(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 10 * time.Millisecond
	cap := 80 * time.Millisecond
	backoff := ExponentialBackoff(base, cap)

	for attempt := 0; attempt < 10; attempt++ {
		d := backoff(attempt)
		if d < 0 {
			t.Errorf("attempt %d: negative delay %v", attempt, d)
		}
		// cap plus at most 50% jitter
		if d > cap+cap/2 {
			t.Errorf("attempt %d: delay %v exceeds jittered cap", attempt, d)
		}
	}

	if d := backoff(0); d < base {
		t.Errorf("first delay %v below base %v", d, base)
	}
}
