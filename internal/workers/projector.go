// Package workers contains the queue consumers that project admitted events
// into the backing stores. Each projector owns one queue; failed applies walk
// a fixed retry ladder and exhausted envelopes are parked in the dead-letter
// queue with their failure annotations.
package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/validation"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

// EventStream is the slice of the broker the projectors consume.
type EventStream interface {
	Consume(ctx context.Context, queue string, prefetch int, handler func(amqp.Delivery)) error
	Publish(ctx context.Context, env models.Envelope) error
	PublishDead(ctx context.Context, env models.Envelope) error
}

// Applier applies one validated envelope to its backing store.
type Applier interface {
	Name() string
	Queue() string
	Apply(ctx context.Context, env models.Envelope) error
}

var (
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_processed_total",
		Help: "Events successfully applied per projector",
	}, []string{"projector"})
	eventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_rejected_total",
		Help: "Events rejected without retry (parse or validation failures)",
	}, []string{"projector", "cause"})
	eventsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_retried_total",
		Help: "Events re-published after a transient apply failure",
	}, []string{"projector"})
	eventsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_dead_lettered_total",
		Help: "Events parked in the DLQ after exhausting the retry ladder",
	}, []string{"projector"})
)

func init() {
	for _, c := range []prometheus.Collector{eventsProcessed, eventsRejected, eventsRetried, eventsDeadLettered} {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

// Projector consumes one queue and applies each envelope through its Applier.
type Projector struct {
	stream    EventStream
	applier   Applier
	validator *validation.EnvelopeValidator
	schedule  []time.Duration
	prefetch  int
	logger    *logrus.Logger
}

func NewProjector(cfg *config.Config, logger *logrus.Logger, stream EventStream, applier Applier) (*Projector, error) {
	validator, err := validation.NewEnvelopeValidator()
	if err != nil {
		return nil, err
	}
	return &Projector{
		stream:    stream,
		applier:   applier,
		validator: validator,
		schedule:  cfg.Retry.Schedule(),
		prefetch:  cfg.Worker.Prefetch,
		logger:    logger,
	}, nil
}

// Run consumes until ctx is cancelled.
func (p *Projector) Run(ctx context.Context) error {
	p.logger.WithFields(logrus.Fields{
		"projector": p.applier.Name(),
		"queue":     p.applier.Queue(),
	}).Info("Projector starting")
	return p.stream.Consume(ctx, p.applier.Queue(), p.prefetch, func(d amqp.Delivery) {
		p.handle(ctx, d)
	})
}

func (p *Projector) handle(ctx context.Context, d amqp.Delivery) {
	log := p.logger.WithField("projector", p.applier.Name())

	var env models.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.WithError(err).Error("Dropping unparseable message")
		eventsRejected.WithLabelValues(p.applier.Name(), "parse").Inc()
		p.reject(d)
		return
	}

	if result := p.validator.ValidateBytes(d.Body); !result.Valid {
		log.WithField("errors", result.Error()).Error("Dropping invalid event")
		eventsRejected.WithLabelValues(p.applier.Name(), "validation").Inc()
		p.reject(d)
		return
	}

	applyDefaults(&env)

	if err := p.applier.Apply(ctx, env); err != nil {
		if errkind.Retryable(err) {
			p.retry(ctx, d, env, err)
		} else {
			log.WithError(err).Error("Dropping event after non-retryable failure")
			eventsRejected.WithLabelValues(p.applier.Name(), "apply").Inc()
			p.reject(d)
		}
		return
	}

	eventsProcessed.WithLabelValues(p.applier.Name()).Inc()
	if err := d.Ack(false); err != nil {
		log.WithError(err).Warn("Failed to ack delivery")
	}
}

// retry walks the backoff ladder. The delay is taken in-process so a hot
// failure does not spin; the envelope then re-enters through the fanout
// exchange with its retry annotations bumped. Once the ladder is spent the
// envelope is parked in the DLQ carrying the final error.
func (p *Projector) retry(ctx context.Context, d amqp.Delivery, env models.Envelope, applyErr error) {
	log := p.logger.WithFields(logrus.Fields{
		"projector":   p.applier.Name(),
		"retry_count": env.RetryCount,
	})

	if env.RetryCount >= len(p.schedule) {
		now := time.Now().UTC()
		env.FinalError = applyErr.Error()
		env.FailedAt = &now
		log.WithError(applyErr).Error("Retry budget exhausted, parking event in DLQ")
		eventsDeadLettered.WithLabelValues(p.applier.Name()).Inc()
		if err := p.stream.PublishDead(ctx, env); err != nil {
			// Fall back to broker-side dead-lettering; annotations are lost
			// but the message is not.
			log.WithError(err).Warn("Failed to publish to DLQ, rejecting instead")
			p.reject(d)
			return
		}
		if err := d.Ack(false); err != nil {
			log.WithError(err).Warn("Failed to ack dead-lettered delivery")
		}
		return
	}

	delay := p.schedule[env.RetryCount]
	now := time.Now().UTC()
	env.RetryCount++
	env.LastError = applyErr.Error()
	env.LastRetryAt = &now

	log.WithError(applyErr).WithField("delay", delay).Warn("Apply failed, scheduling retry")

	select {
	case <-ctx.Done():
		// Shutting down: put the message back untouched.
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Warn("Failed to requeue delivery on shutdown")
		}
		return
	case <-time.After(delay):
	}

	if err := p.stream.Publish(ctx, env); err != nil {
		log.WithError(err).Error("Failed to republish for retry, requeueing original")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Warn("Failed to requeue delivery")
		}
		return
	}

	eventsRetried.WithLabelValues(p.applier.Name()).Inc()
	if err := d.Ack(false); err != nil {
		log.WithError(err).Warn("Failed to ack retried delivery")
	}
}

func (p *Projector) reject(d amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		p.logger.WithError(err).Warn("Failed to reject delivery")
	}
}

// applyDefaults fills the optional envelope fields the way direct admission
// would: session may legitimately be absent, a missing timestamp means "now".
func applyDefaults(env *models.Envelope) {
	if env.EventTime.IsZero() {
		env.EventTime = models.NewEventTime(time.Now())
	}
}

