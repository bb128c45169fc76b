package domain

import (
	"time"

	"github.com/google/uuid"
)

// Adjustment is the append-only audit entry written alongside every
// successful on-hand change.
type Adjustment struct {
	ID            string
	StockItemID   string
	Adjustment    int
	QuantityAfter int
	Reason        string
	Actor         string
	CreatedAt     time.Time
}

func NewAdjustment(evt StockAdjusted, reason, actor string, now time.Time) Adjustment {
	return Adjustment{
		ID:            uuid.NewString(),
		StockItemID:   evt.StockItemID,
		Adjustment:    evt.Adjustment,
		QuantityAfter: evt.NewQuantity,
		Reason:        reason,
		Actor:         actor,
		CreatedAt:     now,
	}
}

// AdjustmentsFrom builds one audit entry per StockAdjusted in events.
func AdjustmentsFrom(events []Event, reason, actor string, now time.Time) []Adjustment {
	var out []Adjustment
	for _, e := range events {
		if adjusted, ok := e.(StockAdjusted); ok {
			out = append(out, NewAdjustment(adjusted, reason, actor, now))
		}
	}
	return out
}
