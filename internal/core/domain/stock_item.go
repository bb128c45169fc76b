package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StockItem is the ledger row for one product: on-hand quantity plus the
// reservations held against it.
//
// Methods never perform I/O. A failed call leaves the item untouched; a
// successful one returns the events it produced. Available quantity is read
// against the caller's clock, so two reads near a TTL boundary may see
// different active sets. The sweeper only garbage-collects rows that reads
// already ignore.
type StockItem struct {
	id             string
	productID      string
	quantityOnHand int
	reservations   []StockReservation
	version        int64 // optimistic locking
	policy         Policy
}

// NewStockItem provisions an empty item for productID.
func NewStockItem(productID string) *StockItem {
	return &StockItem{
		id:        uuid.NewString(),
		productID: productID,
		policy:    DefaultPolicy(),
	}
}

// RestoreStockItem rebuilds an item from stored state.
func RestoreStockItem(id, productID string, quantityOnHand int, version int64, reservations []StockReservation) *StockItem {
	rs := make([]StockReservation, len(reservations))
	copy(rs, reservations)
	return &StockItem{
		id:             id,
		productID:      productID,
		quantityOnHand: quantityOnHand,
		reservations:   rs,
		version:        version,
		policy:         DefaultPolicy(),
	}
}

// WithPolicy replaces the item's policy and returns the item.
func (s *StockItem) WithPolicy(p Policy) *StockItem {
	s.policy = p
	return s
}

func (s *StockItem) ID() string          { return s.id }
func (s *StockItem) ProductID() string   { return s.productID }
func (s *StockItem) QuantityOnHand() int { return s.quantityOnHand }
func (s *StockItem) Version() int64      { return s.version }

// MarkPersisted records the version token the store assigned on write.
func (s *StockItem) MarkPersisted(version int64) {
	s.version = version
}

// Reservations returns a copy of the reservation set, expired ones included.
func (s *StockItem) Reservations() []StockReservation {
	out := make([]StockReservation, len(s.reservations))
	copy(out, s.reservations)
	return out
}

func (s *StockItem) Reservation(id string) (StockReservation, bool) {
	for _, r := range s.reservations {
		if r.ID == id {
			return r, true
		}
	}
	return StockReservation{}, false
}

// AvailableQuantity is on-hand minus the quantity held by reservations that
// have not expired at now.
func (s *StockItem) AvailableQuantity(now time.Time) int {
	reserved := 0
	for _, r := range s.reservations {
		if r.IsActive(now) {
			reserved += r.Quantity
		}
	}
	return s.quantityOnHand - reserved
}

// NextExpiry reports the earliest expiry among active reservations.
func (s *StockItem) NextExpiry(now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, r := range s.reservations {
		if !r.IsActive(now) {
			continue
		}
		if !found || r.ExpiresAt.Before(next) {
			next = r.ExpiresAt
			found = true
		}
	}
	return next, found
}

// AdjustStock applies a signed change to on-hand quantity.
func (s *StockItem) AdjustStock(delta int, now time.Time) ([]Event, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidArgument)
	}

	if delta > MaxQuantityOnHand-s.quantityOnHand {
		return nil, fmt.Errorf("%w: adjustment would exceed %d on hand (current %d, adjustment %d)",
			ErrInvalidArgument, MaxQuantityOnHand, s.quantityOnHand, delta)
	}

	newQuantity := s.quantityOnHand + delta
	if newQuantity < 0 {
		return nil, fmt.Errorf("%w: adjustment would leave negative stock (current %d, adjustment %d)",
			ErrInvariantViolation, s.quantityOnHand, delta)
	}

	s.quantityOnHand = newQuantity

	events := []Event{StockAdjusted{
		StockItemID: s.id,
		ProductID:   s.productID,
		Adjustment:  delta,
		NewQuantity: newQuantity,
	}}
	if newQuantity <= s.policy.LowStockThreshold {
		events = append(events, StockLow{
			StockItemID: s.id,
			ProductID:   s.productID,
			NewQuantity: newQuantity,
		})
	}
	return events, nil
}

// Reserve places a hold of quantity units that lapses after the policy TTL.
func (s *StockItem) Reserve(quantity int, now time.Time) (string, []Event, error) {
	if quantity <= 0 {
		return "", nil, fmt.Errorf("%w: reservation quantity must be positive, got %d", ErrInvalidArgument, quantity)
	}

	available := s.AvailableQuantity(now)
	if available < quantity {
		return "", nil, fmt.Errorf("%w: available %d, requested %d", ErrInsufficientStock, available, quantity)
	}

	r := StockReservation{
		ID:          uuid.NewString(),
		StockItemID: s.id,
		Quantity:    quantity,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.policy.ReservationTTL),
	}
	s.reservations = append(s.reservations, r)

	return r.ID, []Event{StockReserved{
		StockItemID:   s.id,
		ProductID:     s.productID,
		ReservationID: r.ID,
		Quantity:      quantity,
	}}, nil
}

// ReleaseReservation drops the reservation with the given id. Unknown ids are
// a no-op.
func (s *StockItem) ReleaseReservation(reservationID string) []Event {
	for i, r := range s.reservations {
		if r.ID != reservationID {
			continue
		}
		s.reservations = append(s.reservations[:i:i], s.reservations[i+1:]...)
		return []Event{StockReleased{
			StockItemID:   s.id,
			ProductID:     s.productID,
			ReservationID: r.ID,
			Quantity:      r.Quantity,
		}}
	}
	return nil
}
