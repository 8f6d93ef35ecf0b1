package domain

import "errors"

// Reservation error taxonomy. Only ErrVersionConflict is retried inside the
// ledger; everything else propagates to the caller as-is.
var (
	// ErrNotFound means the item id does not reference a known inventory row.
	ErrNotFound = errors.New("inventory item not found")

	// ErrInvalidQuantity means the requested quantity was zero or negative.
	ErrInvalidQuantity = errors.New("requested quantity must be positive")

	// ErrInsufficientStock is a business condition, not a concurrency fault:
	// the item genuinely does not have enough stock for the request.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrVersionConflict means a concurrent writer committed between the
	// snapshot read and the conditional write.
	ErrVersionConflict = errors.New("inventory version conflict")

	// ErrRetriesExhausted is surfaced after the retry budget is spent on
	// consecutive version conflicts.
	ErrRetriesExhausted = errors.New("reservation retries exhausted")

	// ErrStorageUnavailable wraps driver/transport failures talking to the
	// durable store. The ledger never retries these.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateRequest means the request id was already accepted.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrItemExists means an item with the same id is already registered.
	ErrItemExists = errors.New("inventory item already exists")
)
