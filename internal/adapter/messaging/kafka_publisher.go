package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const eventTypeHeader = "event-type"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Envelope is the wire form of every stock event on the events topic.
type Envelope struct {
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// KafkaPublisher writes stock events keyed by stock item id, so every event
// of one item lands on the same partition in commit order.
type KafkaPublisher struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, now: time.Now}
}

// NewKafkaWriter builds a writer that hashes keys to partitions.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	occurredAt := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", e.EventName(), err)
		}
		value, err := json.Marshal(Envelope{
			Type:        e.EventName(),
			AggregateID: e.AggregateID(),
			OccurredAt:  occurredAt,
			Payload:     payload,
		})
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}

		msgs = append(msgs, kafka.Message{
			Key:     []byte(e.AggregateID()),
			Value:   value,
			Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(e.EventName())}},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d stock events: %w", len(msgs), err)
	}
	return nil
}
