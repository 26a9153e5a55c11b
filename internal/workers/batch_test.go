package workers

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

func newTestBatchProjector(t *testing.T, store GraphWriter, size int) *BatchProjector {
	t.Helper()
	cfg := &config.Config{
		Worker: config.WorkerConfig{
			Prefetch: size,
			Batch:    config.BatchWorkerConfig{Size: size, Interval: time.Hour},
		},
	}
	p, err := NewBatchProjector(cfg, testLogger(), &fakeStream{}, store)
	require.NoError(t, err)
	return p
}

func TestBatchFlushesWhenFull(t *testing.T) {
	store := &fakeGraphWriter{}
	p := newTestBatchProjector(t, store, 3)

	ackers := make([]*fakeAcker, 3)
	for i := range ackers {
		ackers[i] = &fakeAcker{}
		env := validEnvelope()
		env.ProductID = int64(100 + i)
		p.handle(amqp.Delivery{Acknowledger: ackers[i], Body: envelopeBody(t, env)})
	}

	require.Len(t, store.recorded, 3)
	assert.Equal(t, int64(100), store.recorded[0].ProductID)
	assert.Equal(t, int64(102), store.recorded[2].ProductID)
	for _, a := range ackers {
		assert.True(t, a.acked)
	}

	p.mu.Lock()
	assert.Empty(t, p.pending)
	p.mu.Unlock()
}

func TestBatchBuffersBelowThreshold(t *testing.T) {
	store := &fakeGraphWriter{}
	p := newTestBatchProjector(t, store, 10)

	acker := &fakeAcker{}
	p.handle(amqp.Delivery{Acknowledger: acker, Body: envelopeBody(t, validEnvelope())})

	assert.Empty(t, store.recorded, "flush waits for the buffer to fill")
	assert.False(t, acker.acked, "acks are deferred until the batch commits")
}

func TestBatchResidualFlush(t *testing.T) {
	store := &fakeGraphWriter{}
	p := newTestBatchProjector(t, store, 10)

	acker := &fakeAcker{}
	p.handle(amqp.Delivery{Acknowledger: acker, Body: envelopeBody(t, validEnvelope())})

	p.flush(context.Background())

	require.Len(t, store.recorded, 1)
	assert.True(t, acker.acked)
}

func TestBatchFlushFailureRequeues(t *testing.T) {
	store := &fakeGraphWriter{err: errkind.Errorf(errkind.BackendUnavailable, "graph down")}
	p := newTestBatchProjector(t, store, 2)

	ackers := []*fakeAcker{{}, {}}
	for i, a := range ackers {
		env := validEnvelope()
		env.ProductID = int64(100 + i)
		p.handle(amqp.Delivery{Acknowledger: a, Body: envelopeBody(t, env)})
	}

	for _, a := range ackers {
		assert.False(t, a.acked)
		assert.True(t, a.rejected)
		assert.True(t, a.requeued, "batch failures are assumed transient")
	}
}

func TestBatchRejectsInvalidWithoutBuffering(t *testing.T) {
	store := &fakeGraphWriter{}
	p := newTestBatchProjector(t, store, 10)

	acker := &fakeAcker{}
	p.handle(amqp.Delivery{Acknowledger: acker, Body: []byte(`{"product_id": 1, "event_type": "view"}`)})

	assert.True(t, acker.rejected)
	assert.False(t, acker.requeued)
	p.mu.Lock()
	assert.Empty(t, p.pending)
	p.mu.Unlock()
}

func TestBatchPrefetchCoversBufferSize(t *testing.T) {
	cfg := &config.Config{
		Worker: config.WorkerConfig{
			Prefetch: 10,
			Batch:    config.BatchWorkerConfig{Size: 200, Interval: time.Second},
		},
	}
	p, err := NewBatchProjector(cfg, testLogger(), &fakeStream{}, &fakeGraphWriter{})
	require.NoError(t, err)
	assert.Equal(t, 200, p.prefetch)
}

func TestBatchDefaults(t *testing.T) {
	p, err := NewBatchProjector(&config.Config{}, testLogger(), &fakeStream{}, &fakeGraphWriter{})
	require.NoError(t, err)
	assert.Equal(t, 100, p.size)
	assert.Equal(t, 10*time.Second, p.interval)
}

func TestEnvelopeRetryAnnotationsSurviveRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := int64(7)
	env := models.Envelope{
		EventTime:   models.NewEventTime(now),
		EventType:   models.EventPurchase,
		ProductID:   5,
		UserID:      &userID,
		RetryCount:  2,
		LastError:   "graph down",
		LastRetryAt: &now,
	}

	body := envelopeBody(t, env)
	p := newTestBatchProjector(t, &fakeGraphWriter{}, 10)
	result := p.validator.ValidateBytes(body)
	assert.True(t, result.Valid, "retry annotations must pass schema validation")
}
