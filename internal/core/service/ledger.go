package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// ReserveMode selects the concurrency strategy used by ReserveStock.
type ReserveMode string

const (
	// ReserveOptimistic detects conflicts with a version compare-and-swap
	// at write time and retries on a fresh snapshot.
	ReserveOptimistic ReserveMode = "optimistic"

	// ReservePessimistic takes an exclusive row lock for the whole
	// read-check-write sequence. No retries, lower throughput.
	ReservePessimistic ReserveMode = "pessimistic"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 10 * time.Millisecond
	DefaultBackoffCap  = 200 * time.Millisecond
)

// BackoffPolicy maps a zero-based attempt number to the delay taken before
// the next retry.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialBackoff doubles base per attempt up to cap, with up to 50%
// random jitter so racing contenders do not retry in lockstep.
func ExponentialBackoff(base, cap time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		d := base << uint(attempt)
		if d <= 0 || d > cap {
			d = cap
		}
		return d + time.Duration(rand.Int63n(int64(d)/2+1))
	}
}

// LedgerConfig tunes the retry budget and concurrency strategy. The zero
// value gets the defaults applied by NewLedger.
type LedgerConfig struct {
	MaxRetries int
	Backoff    BackoffPolicy
	Mode       ReserveMode
}

// Ledger owns per-item available-quantity state. It guarantees that
// concurrent reservations never drive stock below zero and never lose a
// committed decrement, resolving contention entirely through the store's
// conditional-write primitive rather than in-process locks.
type Ledger struct {
	repo port.InventoryRepository
	cfg  LedgerConfig
}

func NewLedger(repo port.InventoryRepository, cfg LedgerConfig) *Ledger {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(DefaultBackoffBase, DefaultBackoffCap)
	}
	if cfg.Mode == "" {
		cfg.Mode = ReserveOptimistic
	}
	return &Ledger{repo: repo, cfg: cfg}
}

// ReserveStock decrements quantity units of itemID, or reports why it
// cannot. On success exactly one durable mutation has been committed; on any
// failure, none. Version conflicts are retried up to MaxRetries with backoff
// between attempts; every other error propagates immediately.
func (l *Ledger) ReserveStock(ctx context.Context, itemID string, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	if l.cfg.Mode == ReservePessimistic {
		return l.repo.ReserveLocked(ctx, itemID, quantity)
	}

	for attempt := 0; ; attempt++ {
		res, err := l.tryReserve(ctx, itemID, quantity)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		if attempt >= l.cfg.MaxRetries {
			log.Warn().Str("item_id", itemID).Int("attempts", attempt+1).
				Msg("reservation abandoned after version conflicts")
			return nil, domain.ErrRetriesExhausted
		}

		log.Debug().Str("item_id", itemID).Int("attempt", attempt+1).
			Msg("version conflict, retrying on fresh snapshot")
		if err := sleep(ctx, l.cfg.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

// tryReserve is one read-verify-write pass. The decision (enough stock) and
// the mutation are collapsed into a single conditional write guarded by the
// snapshot version; a separate read-then-write pair here would reintroduce
// the oversell race.
func (l *Ledger) tryReserve(ctx context.Context, itemID string, quantity int) (*domain.Reservation, error) {
	item, err := l.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	if !item.CanReserve(quantity) {
		// A real shortage, not a transient conflict. Never retried.
		return nil, domain.ErrInsufficientStock
	}

	newQuantity := item.Quantity - quantity
	ok, err := l.repo.UpdateQuantityCAS(ctx, itemID, newQuantity, item.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrVersionConflict
	}

	return &domain.Reservation{
		ItemID:    itemID,
		Quantity:  quantity,
		Remaining: newQuantity,
		Version:   item.Version + 1,
	}, nil
}

// GetItem returns the current snapshot of an item.
func (l *Ledger) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	item, err := l.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// ReleaseStock credits quantity units back to an item, compensating a
// reservation whose order could not be completed. Same CAS discipline and
// retry budget as ReserveStock.
func (l *Ledger) ReleaseStock(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	for attempt := 0; ; attempt++ {
		item, err := l.repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}

		ok, err := l.repo.UpdateQuantityCAS(ctx, itemID, item.Quantity+quantity, item.Version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= l.cfg.MaxRetries {
			return domain.ErrRetriesExhausted
		}
		if err := sleep(ctx, l.cfg.Backoff(attempt)); err != nil {
			return err
		}
	}
}

// CreateItem registers a new item. Stock intake happens here, never through
// the reservation path.
func (l *Ledger) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	if item.Quantity < 0 {
		return domain.ErrInvalidQuantity
	}
	return l.repo.CreateItem(ctx, item)
}

// ListItems returns all items with their current snapshots.
func (l *Ledger) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return l.repo.ListItems(ctx)
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
