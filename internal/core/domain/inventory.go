package domain

import "time"

// InventoryItem is the unit of contention. Version guards every mutation of
// Quantity: a conditional write applies only while the stored version still
// equals the one read, and increments it by exactly 1 when it commits.
type InventoryItem struct {
	ID        string
	Name      string
	Quantity  int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanReserve reports whether quantity units can be taken without going
// negative.
func (i *InventoryItem) CanReserve(quantity int) bool {
	return i.Quantity >= quantity
}

// Reservation is the committed outcome of a successful stock decrement.
type Reservation struct {
	ItemID    string
	Quantity  int
	Remaining int
	Version   int64
}
