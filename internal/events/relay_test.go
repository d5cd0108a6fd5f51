package events

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

	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/store"
	"github.com/safar/stockroom/internal/testutil"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []models.OutboxEvent
	failFor   map[int64]bool
	failEvent map[int64]bool
}

func (f *fakePublisher) Publish(_ context.Context, event models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[event.AggregateID] || f.failEvent[event.ID] {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) ids() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0, len(f.published))
	for _, event := range f.published {
		ids = append(ids, event.ID)
	}
	return ids
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestRelayProcessOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_, err := store.InsertEvent(ctx, db, "order", i, models.EventOrderCreated, map[string]int64{"order_id": i})
		require.NoError(t, err)
	}

	publisher := &fakePublisher{failFor: map[int64]bool{2: true}}
	relay := NewRelay(db, publisher, zap.NewNop(), time.Second, 10)

	sent, err := relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	pending, err := store.CountEvents(ctx, db, models.EventOrderCreated, models.OutboxStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "failed event stays pending")

	publisher.failFor = nil
	sent, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRelayKeepsAggregateOrderAfterFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	first, err := store.InsertEvent(ctx, db, "order", 1, models.EventOrderCreated, map[string]int64{"order_id": 1})
	require.NoError(t, err)
	other, err := store.InsertEvent(ctx, db, "order", 2, models.EventOrderCreated, map[string]int64{"order_id": 2})
	require.NoError(t, err)
	second, err := store.InsertEvent(ctx, db, "order", 1, models.EventOrderCreated, map[string]int64{"order_id": 1})
	require.NoError(t, err)

	publisher := &fakePublisher{failEvent: map[int64]bool{first.ID: true}}
	relay := NewRelay(db, publisher, zap.NewNop(), time.Second, 10)

	sent, err := relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{other.ID}, publisher.ids(), "later event of the failed aggregate is held back")

	var attempts int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT attempts FROM outbox_events WHERE id = $1`, second.ID).Scan(&attempts))
	assert.Zero(t, attempts, "held event was never tried")

	publisher.failEvent = nil
	sent, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{other.ID, first.ID, second.ID}, publisher.ids())
}

func TestRelayStartStopsOnCancel(t *testing.T) {
	db := testutil.SetupTestDB(t)

	_, err := store.InsertEvent(context.Background(), db, "product", 7, models.EventInventoryAdjusted, struct{}{})
	require.NoError(t, err)

	publisher := &fakePublisher{}
	relay := NewRelay(db, publisher, zap.NewNop(), 20*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return publisher.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

type recordingProducer struct {
	messages []kafka.Message
}

func (r *recordingProducer) WriteMessage(_ context.Context, msg kafka.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func TestKafkaPublisherMessageShape(t *testing.T) {
	producer := &recordingProducer{}
	publisher := &KafkaPublisher{producer: producer}

	err := publisher.Publish(context.Background(), models.OutboxEvent{
		EventID:       "5f0c7a2e-0000-4000-8000-000000000001",
		AggregateType: "order",
		AggregateID:   42,
		EventType:     models.EventOrderCreated,
		Payload:       []byte(`{"order_id":42}`),
	})
	require.NoError(t, err)
	require.Len(t, producer.messages, 1)

	msg := producer.messages[0]
	assert.Equal(t, "order:42", string(msg.Key))
	assert.JSONEq(t, `{"order_id":42}`, string(msg.Value))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, models.EventOrderCreated, headers[HeaderEventType])
	assert.Equal(t, "5f0c7a2e-0000-4000-8000-000000000001", headers[HeaderEventID])
}
