package messaging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		p.log.Info().
			Str("event", e.EventName()).
			Str("aggregate_id", e.AggregateID()).
			Interface("payload", e).
			Msg("stock event")
	}
	return nil
}
