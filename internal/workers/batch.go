package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/internal/validation"
	"github.com/lumora/affinity/pkg/models"
)

// BatchProjector trades per-event latency for write throughput: deliveries
// accumulate and flush to the graph in one UNWIND transaction, either when
// the buffer is full or when the flush interval elapses. Acks are deferred
// until the batch commits, so an unflushed buffer survives a crash as
// unacked deliveries.
type BatchProjector struct {
	stream    EventStream
	store     GraphWriter
	validator *validation.EnvelopeValidator
	size      int
	interval  time.Duration
	prefetch  int
	logger    *logrus.Logger

	mu      sync.Mutex
	pending []pendingEvent
}

type pendingEvent struct {
	interaction graph.Interaction
	delivery    amqp.Delivery
}

func NewBatchProjector(cfg *config.Config, logger *logrus.Logger, stream EventStream, store GraphWriter) (*BatchProjector, error) {
	validator, err := validation.NewEnvelopeValidator()
	if err != nil {
		return nil, err
	}

	size := cfg.Worker.Batch.Size
	if size <= 0 {
		size = 100
	}
	interval := cfg.Worker.Batch.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	prefetch := cfg.Worker.Prefetch
	if prefetch < size {
		// QoS must leave room for a full buffer of unacked deliveries.
		prefetch = size
	}

	return &BatchProjector{
		stream:    stream,
		store:     store,
		validator: validator,
		size:      size,
		interval:  interval,
		prefetch:  prefetch,
		logger:    logger,
	}, nil
}

// Run consumes until ctx is cancelled, then flushes whatever is buffered.
func (p *BatchProjector) Run(ctx context.Context) error {
	p.logger.WithFields(logrus.Fields{
		"queue":    messaging.GraphQueue,
		"size":     p.size,
		"interval": p.interval,
	}).Info("Batch projector starting")

	flusherCtx, stopFlusher := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-flusherCtx.Done():
				return
			case <-ticker.C:
				p.flush(context.Background())
			}
		}
	}()

	err := p.stream.Consume(ctx, messaging.GraphQueue, p.prefetch, p.handle)

	stopFlusher()
	wg.Wait()
	// Residual flush so a clean shutdown loses nothing.
	p.flush(context.Background())
	return err
}

func (p *BatchProjector) handle(d amqp.Delivery) {
	var env models.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		p.logger.WithError(err).Error("Dropping unparseable message")
		eventsRejected.WithLabelValues("batch", "parse").Inc()
		if err := d.Reject(false); err != nil {
			p.logger.WithError(err).Warn("Failed to reject delivery")
		}
		return
	}

	if result := p.validator.ValidateBytes(d.Body); !result.Valid {
		p.logger.WithField("errors", result.Error()).Error("Dropping invalid event")
		eventsRejected.WithLabelValues("batch", "validation").Inc()
		if err := d.Reject(false); err != nil {
			p.logger.WithError(err).Warn("Failed to reject delivery")
		}
		return
	}

	applyDefaults(&env)

	p.mu.Lock()
	p.pending = append(p.pending, pendingEvent{
		interaction: graph.Interaction{
			UserID:    *env.UserID,
			ProductID: env.ProductID,
			EventType: env.EventType,
			SessionID: env.UserSession,
			EventTime: env.EventTime.Time,
		},
		delivery: d,
	})
	full := len(p.pending) >= p.size
	p.mu.Unlock()

	if full {
		p.flush(context.Background())
	}
}

// flush commits the buffer in one transaction. On failure every delivery is
// requeued; the per-event projector path handles poison messages, a batch
// failure is assumed transient.
func (p *BatchProjector) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	interactions := make([]graph.Interaction, len(batch))
	for i, ev := range batch {
		interactions[i] = ev.interaction
	}

	count, err := p.store.RecordBatch(ctx, interactions)
	if err != nil {
		p.logger.WithError(err).WithField("size", len(batch)).Error("Batch flush failed, requeueing")
		for _, ev := range batch {
			if err := ev.delivery.Nack(false, true); err != nil {
				p.logger.WithError(err).Warn("Failed to requeue delivery")
			}
		}
		return
	}

	for _, ev := range batch {
		if err := ev.delivery.Ack(false); err != nil {
			p.logger.WithError(err).Warn("Failed to ack delivery")
		}
	}
	eventsProcessed.WithLabelValues("batch").Add(float64(len(batch)))
	p.logger.WithField("count", count).Debug("Flushed interaction batch")
}
