package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Envelope(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	err := p.Publish(context.Background(),
		domain.StockAdjusted{StockItemID: "si-1", ProductID: "p1", Adjustment: -5, NewQuantity: 3},
		domain.StockLow{StockItemID: "si-1", ProductID: "p1", NewQuantity: 3},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	msg := w.msgs[0]
	assert.Equal(t, "si-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, domain.EventStockAdjusted, string(msg.Headers[0].Value))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, domain.EventStockAdjusted, env.Type)
	assert.Equal(t, "si-1", env.AggregateID)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"stock_item_id":"si-1","product_id":"p1","adjustment":-5,"new_quantity":3}`, string(env.Payload))

	assert.Equal(t, domain.EventStockLow, string(w.msgs[1].Headers[0].Value))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{err: errors.New("leader not available")})
	err := p.Publish(context.Background(), domain.StockReserved{StockItemID: "si-1"})
	assert.ErrorContains(t, err, "leader not available")

	assert.NoError(t, p.Publish(context.Background()))
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	err := p.Publish(context.Background(), domain.StockReleased{StockItemID: "si-9", ReservationID: "r-1", Quantity: 2})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, domain.EventStockReleased, line["event"])
	assert.Equal(t, "si-9", line["aggregate_id"])
}

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type provisionCall struct {
	productID, messageID string
}

type fakeProvisioner struct {
	mu       sync.Mutex
	calls    []provisionCall
	failures int
}

func (p *fakeProvisioner) Provision(ctx context.Context, productID, messageID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, provisionCall{productID, messageID})
	if productID == "" {
		return false, domain.ErrInvalidArgument
	}
	if p.failures > 0 {
		p.failures--
		return false, errors.New("deadlock found when trying to get lock")
	}
	return true, nil
}

func (p *fakeProvisioner) snapshot() []provisionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provisionCall(nil), p.calls...)
}

func runConsumer(t *testing.T, reader *fakeReader, svc *fakeProvisioner, wantCommits int) {
	t.Helper()
	c := NewProductConsumer(reader, svc, zerolog.Nop())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == wantCommits }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestProductConsumer_Provisions(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "catalog.product-created", Offset: 1, Value: []byte(`{"event_id":"evt-1","product_id":"p1"}`)},
		kafka.Message{Topic: "catalog.product-created", Partition: 2, Offset: 2, Value: []byte(`{"product_id":"p2"}`)},
	)
	svc := &fakeProvisioner{}

	runConsumer(t, reader, svc, 2)

	assert.Equal(t, []provisionCall{
		{"p1", "evt-1"},
		{"p2", "catalog.product-created/2/2"},
	}, svc.snapshot())
	assert.Equal(t, []int64{1, 2}, reader.commits())
}

func TestProductConsumer_SkipsBadMessages(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte(`not json`)},
		kafka.Message{Offset: 2, Value: []byte(`{"event_id":"evt-2"}`)},
	)
	svc := &fakeProvisioner{}

	runConsumer(t, reader, svc, 2)

	calls := svc.snapshot()
	require.Len(t, calls, 1, "invalid arguments must not be retried")
	assert.Equal(t, "", calls[0].productID)
}

func TestProductConsumer_RetriesTransientFailures(t *testing.T) {
	reader := newFakeReader(kafka.Message{Offset: 7, Value: []byte(`{"event_id":"evt-7","product_id":"p7"}`)})
	svc := &fakeProvisioner{failures: 2}

	runConsumer(t, reader, svc, 1)

	assert.Len(t, svc.snapshot(), 3)
	assert.Equal(t, []int64{7}, reader.commits())
}
