package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// DecrementStock atomically decreases the mirrored stock counter,
	// returns false if insufficient
	DecrementStock(ctx context.Context, itemID string, quantity int) (bool, error)

	// IncrementStock restores mirrored stock (for rollback on failure)
	IncrementStock(ctx context.Context, itemID string, quantity int) error

	// SetStock seeds the mirrored stock counter
	SetStock(ctx context.Context, itemID string, quantity int) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// AcquireLock takes a distributed lock, returning a release token or ""
	// if the lock is held elsewhere
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)

	// ReleaseLock releases a lock only if the token still owns it
	ReleaseLock(ctx context.Context, key, token string) error
}
