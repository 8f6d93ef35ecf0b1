package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order records one accepted purchase. It is created only after the ledger
// has committed the matching stock decrement, so an order row and its
// reservation always agree.
type Order struct {
	ID        string
	UserID    string
	ItemID    string
	Quantity  int
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPendingOrder builds the order for a freshly committed reservation.
func NewPendingOrder(id, userID string, res *Reservation) Order {
	now := time.Now()
	return Order{
		ID:        id,
		UserID:    userID,
		ItemID:    res.ItemID,
		Quantity:  res.Quantity,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
