package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	itemLockKeyPrefix    = "lock:item:"
	itemLockTTL          = 30 * time.Second
)

// OrderService is the order-submission caller in front of the ledger. It
// dedupes requests, optionally sheds load through the cache-side stock gate,
// reserves stock through the ledger, and hands accepted orders to the
// persistence workers via a buffered queue.
type OrderService struct {
	ledger     *Ledger
	cache      port.CacheRepository
	orderQueue chan domain.Order

	// useGate rejects obviously hopeless requests against the mirrored
	// counter before touching the durable store.
	useGate bool

	// useLock wraps the reservation in a distributed lock. Extra protection
	// for deployments where many processes hammer one item; the ledger is
	// already safe without it.
	useLock bool
}

func NewOrderService(ledger *Ledger, cache port.CacheRepository, queueSize int, useGate, useLock bool) *OrderService {
	return &OrderService{
		ledger:     ledger,
		cache:      cache,
		orderQueue: make(chan domain.Order, queueSize),
		useGate:    useGate,
		useLock:    useLock,
	}
}

// Purchase reserves stock for one order request. The reservation and the
// accept decision are a single atomic step: a non-nil error means nothing
// was committed for this request.
func (s *OrderService) Purchase(ctx context.Context, requestID, userID, itemID string, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	ok, err := s.cache.SetIdempotency(ctx, idempotencyKeyPrefix+requestID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, domain.ErrDuplicateRequest
	}

	if s.useGate {
		ok, err := s.cache.DecrementStock(ctx, itemID, quantity)
		if err != nil {
			return nil, fmt.Errorf("stock gate failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrInsufficientStock
		}
	}

	res, err := s.reserve(ctx, itemID, quantity)
	if err != nil {
		if s.useGate {
			if rollbackErr := s.cache.IncrementStock(ctx, itemID, quantity); rollbackErr != nil {
				log.Error().Err(rollbackErr).Str("item_id", itemID).
					Msg("CRITICAL: stock gate rollback failed")
			}
		}
		return nil, err
	}

	s.orderQueue <- domain.NewPendingOrder(uuid.NewString(), userID, res)

	return res, nil
}

func (s *OrderService) reserve(ctx context.Context, itemID string, quantity int) (*domain.Reservation, error) {
	if !s.useLock {
		return s.ledger.ReserveStock(ctx, itemID, quantity)
	}

	lockKey := itemLockKeyPrefix + itemID
	token, err := s.cache.AcquireLock(ctx, lockKey, itemLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if token == "" {
		// Another process holds the item; treat as contention.
		return nil, domain.ErrRetriesExhausted
	}
	defer func() {
		if err := s.cache.ReleaseLock(ctx, lockKey, token); err != nil {
			log.Error().Err(err).Str("key", lockKey).Msg("failed to release item lock")
		}
	}()

	return s.ledger.ReserveStock(ctx, itemID, quantity)
}

func (s *OrderService) GetOrderQueue() <-chan domain.Order {
	return s.orderQueue
}

func (s *OrderService) Close() {
	close(s.orderQueue)
}
