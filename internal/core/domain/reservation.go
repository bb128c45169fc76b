package domain

import "time"

// StockReservation is a time-boxed hold against a stock item. Released
// reservations are removed from their item, so there is no released state.
type StockReservation struct {
	ID          string
	StockItemID string
	Quantity    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r StockReservation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}
