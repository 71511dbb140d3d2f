package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository/memory"
)

// fakeWriter запоминает сообщения и падает первые failures раз
type fakeWriter struct {
	mu       sync.Mutex
	failures int
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("broker not available")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func enqueue(t *testing.T, store *memory.Store, events ...repository.OutboxEvent) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback(ctx)
	for _, e := range events {
		require.NoError(t, uow.EnqueueOutboxEvent(ctx, e))
	}
	require.NoError(t, uow.Commit(ctx))
}

func TestOutboxDispatcher_PublishesAndMarksSent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enqueue(t, store,
		repository.OutboxEvent{EventID: "e1", Topic: "pharmacy.alerts.raised", AggregateID: "p1", EventType: "pharmacy.alert.raised",
			Payload: []byte(`{"tier":"critical"}`), Headers: map[string]string{"traceparent": "00-abc-def-01"}},
		repository.OutboxEvent{EventID: "e2", Topic: "stock.movements", AggregateID: "op-1", EventType: "stock.movements.recorded",
			Payload: []byte(`{}`)},
	)

	writer := &fakeWriter{}
	d := NewOutboxDispatcher(zap.NewNop(), store, writer, DispatcherConfig{BatchSize: 10, MaxRetries: 1})

	require.NoError(t, d.processBatch(ctx))

	require.Len(t, writer.messages, 2)
	first := writer.messages[0]
	assert.Equal(t, "pharmacy.alerts.raised", first.Topic)
	assert.Equal(t, []byte("p1"), first.Key)

	headers := map[string]string{}
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "00-abc-def-01", headers["traceparent"])
	assert.Equal(t, "pharmacy.alert.raised", headers["event_type"])

	pending, err := store.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, d.Close())
	assert.True(t, writer.closed)
}

func TestOutboxDispatcher_RetriesThenKeepsPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enqueue(t, store, repository.OutboxEvent{EventID: "e1", Topic: "t", AggregateID: "a", Payload: []byte(`{}`)})

	writer := &fakeWriter{failures: 5}
	d := NewOutboxDispatcher(zap.NewNop(), store, writer, DispatcherConfig{MaxRetries: 2, Backoff: time.Millisecond})

	require.NoError(t, d.processBatch(ctx))

	pending, err := store.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "broker not available")

	// брокер ожил: следующий проход доставляет событие
	writer.failures = 0
	require.NoError(t, d.processBatch(ctx))
	pending, err = store.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, writer.messages, 1)
}

func TestOutboxDispatcher_StopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	d := NewOutboxDispatcher(zap.NewNop(), store, &fakeWriter{}, DispatcherConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
