package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, orders.TopicOrderCreated, 4, zap.NewNop())
	p.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Publish(t.Context(), []byte("k"), []byte("v")))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.msgs, 10)
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(t.Context(), nil, nil), ErrProducerClosed)
}

func TestProducerPublishHonorsContext(t *testing.T) {
	p := newProducer(&fakeWriter{}, orders.TopicOrderCreated, 0, zap.NewNop())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, nil, []byte("v"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Start()
	p.Close()
	p.WaitClosed()
}

func TestEmit(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, orders.TopicOrderCompleted, 1, zap.NewNop())
	p.Start()

	payload := orders.OrderCompletedPayload{
		OrderID: "o-1",
		Items:   []orders.ItemQty{{ProductID: 3, Qty: 2}},
		Methods: []string{"cash"},
		Total:   decimal.RequireFromString("305.00"),
	}
	require.NoError(t, p.Emit(t.Context(), orders.EventOrderCompleted, "pos-api", "req-1", "o-1", payload))
	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, orders.PartitionKey("o-1"), m.Key)
	assert.Equal(t, HeaderEventType, m.Headers[0].Key)
	assert.Equal(t, orders.EventOrderCompleted, string(m.Headers[0].Value))

	env, err := UnmarshalEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderCompleted, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.Equal(t, "req-1", env.TraceID)
	assert.NotEmpty(t, env.EventID)

	got, err := UnwrapPayload[orders.OrderCompletedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, payload.Items, got.Items)
	assert.True(t, payload.Total.Equal(got.Total))
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumerCommitsOnlyHandled(t *testing.T) {
	r := &fakeReader{}
	for i := int64(0); i < 6; i++ {
		r.pending = append(r.pending, kafka.Message{Offset: i})
	}
	c := newConsumer(r, 3, zap.NewNop())

	ctx, cancel := context.WithCancel(t.Context())
	var (
		mu      sync.Mutex
		handled int
	)
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		handled++
		done := handled == 6
		mu.Unlock()
		if done {
			defer cancel()
		}
		if m.Offset%2 == 1 {
			return errors.New("boom")
		}
		return nil
	}

	require.NoError(t, c.Start(ctx, h))

	assert.Equal(t, 6, handled)
	assert.ElementsMatch(t, []int64{0, 2, 4}, r.committed)
	assert.True(t, r.closed)
}
