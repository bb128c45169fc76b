package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type EventPublisher interface {
	// Publish hands events to the outbound transport in order
	Publish(ctx context.Context, events ...domain.Event) error
}
