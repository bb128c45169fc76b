package domain

import (
	"math"
	"time"
)

const (
	DefaultReservationTTL    = 15 * time.Minute
	DefaultLowStockThreshold = 10

	// MaxQuantityOnHand matches the width of the stored quantity column.
	MaxQuantityOnHand = math.MaxInt32
)

// Policy holds the tunables the aggregate consults when it reserves or adjusts.
type Policy struct {
	ReservationTTL    time.Duration
	LowStockThreshold int
}

func DefaultPolicy() Policy {
	return Policy{
		ReservationTTL:    DefaultReservationTTL,
		LowStockThreshold: DefaultLowStockThreshold,
	}
}
