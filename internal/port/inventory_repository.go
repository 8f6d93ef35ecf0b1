package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type InventoryRepository interface {
	// GetItem returns a consistent (quantity, version) snapshot of an item,
	// or nil when the id is unknown
	GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error)

	// UpdateQuantityCAS applies (newQuantity, expectedVersion+1) only if the
	// stored version still equals expectedVersion. A false result means zero
	// rows matched: a concurrent writer committed first.
	UpdateQuantityCAS(ctx context.Context, itemID string, newQuantity int, expectedVersion int64) (bool, error)

	// ReserveLocked decrements stock under an exclusive row lock,
	// serializing all contenders for the item
	ReserveLocked(ctx context.Context, itemID string, quantity int) (*domain.Reservation, error)

	// CreateItem registers a new inventory item at version 0
	CreateItem(ctx context.Context, item domain.InventoryItem) error

	// ListItems returns all inventory items
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)

	// CreateOrder persists an accepted order
	CreateOrder(ctx context.Context, order domain.Order) error
}
