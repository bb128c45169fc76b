package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	handleTimeout   = 5 * time.Second
	handleRetries   = 5
	fetchErrorPause = time.Second
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Provisioner interface {
	Provision(ctx context.Context, productID, messageID string) (bool, error)
}

// ProductCreated is the catalog message that opens a stock item.
type ProductCreated struct {
	EventID   string `json:"event_id"`
	ProductID string `json:"product_id"`
}

// ProductConsumer provisions a stock item for every product-created message.
// An offset is committed once its message is settled, even when settling
// means dropping it after retries. A crash replays at most the in-flight
// message, and provisioning is idempotent.
type ProductConsumer struct {
	reader  MessageReader
	svc     Provisioner
	log     zerolog.Logger
	backoff time.Duration
}

func NewProductConsumer(reader MessageReader, svc Provisioner, log zerolog.Logger) *ProductConsumer {
	return &ProductConsumer{
		reader:  reader,
		svc:     svc,
		log:     log.With().Str("component", "product-consumer").Logger(),
		backoff: 100 * time.Millisecond,
	}
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Run consumes until ctx is cancelled.
func (c *ProductConsumer) Run(ctx context.Context) error {
	c.log.Info().Msg("product consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("product consumer stopped")
				return nil
			}
			c.log.Error().Err(err).Msg("could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchErrorPause):
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Int64("offset", msg.Offset).Str("key", string(msg.Key)).Msg("dropping product message after retries")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

func (c *ProductConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var evt ProductCreated
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("malformed product message, skipping")
		return nil
	}

	messageID := evt.EventID
	if messageID == "" {
		messageID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}

	backoff := retry.WithMaxRetries(handleRetries, retry.WithCappedDuration(5*time.Second, retry.NewExponential(c.backoff)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		_, err := c.svc.Provision(hctx, evt.ProductID, messageID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrInvalidArgument):
			c.log.Warn().Err(err).Str("message_id", messageID).Msg("rejected product message, skipping")
			return nil
		default:
			c.log.Warn().Err(err).Str("product_id", evt.ProductID).Msg("provisioning failed, retrying")
			return retry.RetryableError(err)
		}
	})
}
