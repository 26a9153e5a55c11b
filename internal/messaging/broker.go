// Package messaging is the RabbitMQ adapter. Events fan out from a single
// exchange to one queue per projector; failures dead-letter through a direct
// exchange into a parking queue.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

const (
	EventsExchange     = "events"
	DeadLetterExchange = "events.dlx"

	GraphQueue      = "events.neo4j"
	VectorQueue     = "events.qdrant"
	DeadLetterQueue = "events.dlq"

	dlqRoutingKey = "dlq"

	reconnectDelay = 5 * time.Second
)

// ValidQueue reports whether name is one of the queues this topology owns.
// The control surface uses it to reject arbitrary queue names.
func ValidQueue(name string) bool {
	switch name {
	case GraphQueue, VectorQueue, DeadLetterQueue:
		return true
	}
	return false
}

// PrimaryQueues are the queues the projectors consume from.
func PrimaryQueues() []string {
	return []string{GraphQueue, VectorQueue}
}

type Broker struct {
	url    string
	cfg    config.BrokerConfig
	queues config.QueueConfig
	logger *logrus.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewBroker(cfg *config.Config, logger *logrus.Logger) (*Broker, error) {
	b := &Broker{
		url: fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
			url.QueryEscape(cfg.Broker.User),
			url.QueryEscape(cfg.Broker.Password),
			cfg.Broker.Host,
			cfg.Broker.Port,
			url.QueryEscape(cfg.Broker.VHost),
		),
		cfg:    cfg.Broker,
		queues: cfg.Queue,
		logger: logger,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connectLocked() error {
	conn, err := amqp.DialConfig(b.url, amqp.Config{
		Heartbeat: b.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(b.cfg.BlockedTimeout),
	})
	if err != nil {
		return errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("failed to connect to broker: %w", err))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("failed to open channel: %w", err))
	}

	if err := declareTopology(ch, b.queues); err != nil {
		ch.Close()
		conn.Close()
		return errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to declare topology: %w", err))
	}

	b.conn = conn
	b.ch = ch

	b.logger.WithFields(logrus.Fields{
		"host": b.cfg.Host,
		"port": b.cfg.Port,
	}).Info("Connected to broker")
	return nil
}

// declareTopology sets up the fanout exchange, the dead-letter pair, and the
// per-projector queues. Declarations are idempotent as long as the arguments
// never change.
func declareTopology(ch *amqp.Channel, queues config.QueueConfig) error {
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, amqp.Table{
		"x-message-ttl": queues.DLQ.TTLMillis,
	}); err != nil {
		return err
	}
	if err := ch.QueueBind(DeadLetterQueue, dlqRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(EventsExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	primaryArgs := amqp.Table{
		"x-message-ttl":             queues.Primary.TTLMillis,
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": dlqRoutingKey,
		"x-max-length":              queues.Primary.MaxLength,
	}
	for _, queue := range PrimaryQueues() {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, primaryArgs); err != nil {
			return err
		}
		if err := ch.QueueBind(queue, "", EventsExchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Publish fans out one envelope. The publish timestamp is injected here so
// consumers can measure queue latency.
func (b *Broker) Publish(ctx context.Context, env models.Envelope) error {
	now := time.Now().UTC()
	env.PublishedAt = &now

	body, err := json.Marshal(env)
	if err != nil {
		return errkind.Wrap(errkind.Internal, fmt.Errorf("failed to marshal envelope: %w", err))
	}

	if err := b.publish(ctx, EventsExchange, "", body); err != nil {
		b.logger.WithError(err).WithField("event_type", env.EventType).Error("Failed to publish event")
		return err
	}

	b.logger.WithFields(logrus.Fields{
		"exchange":   EventsExchange,
		"event_type": env.EventType,
	}).Debug("Published event")
	return nil
}

// PublishDead parks an envelope in the dead-letter queue directly. Projectors
// use it when the retry budget is spent, so the parked copy keeps its failure
// annotations instead of the original body a broker-side dead-letter would carry.
func (b *Broker) PublishDead(ctx context.Context, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errkind.Wrap(errkind.Internal, fmt.Errorf("failed to marshal envelope: %w", err))
	}
	return b.publish(ctx, DeadLetterExchange, dlqRoutingKey, body)
}

// PublishBatch publishes each envelope independently and returns how many
// made it out. Individual failures are logged, not fatal.
func (b *Broker) PublishBatch(ctx context.Context, envs []models.Envelope) int {
	published := 0
	for _, env := range envs {
		if err := b.Publish(ctx, env); err == nil {
			published++
		}
	}
	b.logger.WithFields(logrus.Fields{
		"published": published,
		"total":     len(envs),
	}).Info("Published event batch")
	return published
}

func (b *Broker) publish(ctx context.Context, exchange, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Body:         body,
	}

	if b.ch != nil {
		if err := b.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err == nil {
			return nil
		}
	}

	// One reconnect attempt before giving up.
	b.closeLocked()
	if err := b.connectLocked(); err != nil {
		return err
	}
	if err := b.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("failed to publish: %w", err))
	}
	return nil
}

// Consume delivers messages from queue to handler until ctx is cancelled.
// Acking is the handler's responsibility. Dropped connections are re-dialed
// and consumption resumes from the queue head.
func (b *Broker) Consume(ctx context.Context, queue string, prefetch int, handler func(amqp.Delivery)) error {
	if prefetch <= 0 {
		prefetch = 10
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, ch, err := b.openConsumer(queue, prefetch)
		if err != nil {
			b.logger.WithError(err).WithField("queue", queue).Error("Failed to start consumer, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}

		b.logger.WithFields(logrus.Fields{
			"queue":    queue,
			"prefetch": prefetch,
		}).Info("Started consuming")

	loop:
		for {
			select {
			case <-ctx.Done():
				ch.Close()
				return ctx.Err()
			case delivery, ok := <-deliveries:
				if !ok {
					b.logger.WithField("queue", queue).Warn("Consumer channel closed, reconnecting")
					break loop
				}
				handler(delivery)
			}
		}

		ch.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *Broker) openConsumer(queue string, prefetch int) (<-chan amqp.Delivery, *amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		b.closeLocked()
		if err := b.connectLocked(); err != nil {
			return nil, nil, err
		}
	}

	// Consumers get their own channel so handler acks never race the
	// publisher channel.
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("failed to open consumer channel: %w", err))
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to set QoS: %w", err))
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to consume from %s: %w", queue, err))
	}
	return deliveries, ch, nil
}

// QueueInfo holds passive-declare counters for one queue.
type QueueInfo struct {
	Queue     string `json:"queue"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// GetQueueInfo inspects a queue without modifying it. The passive declare
// runs on a throwaway channel because a missing queue kills the channel.
func (b *Broker) GetQueueInfo(name string) (QueueInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		b.closeLocked()
		if err := b.connectLocked(); err != nil {
			return QueueInfo{}, err
		}
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return QueueInfo{}, errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("failed to open channel: %w", err))
	}
	defer ch.Close()

	state, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return QueueInfo{}, errkind.Wrap(errkind.NotFound, fmt.Errorf("queue %s not found: %w", name, err))
	}

	return QueueInfo{
		Queue:     name,
		Messages:  state.Messages,
		Consumers: state.Consumers,
	}, nil
}

// GetAllQueuesInfo inspects every queue in the topology. Queues that cannot
// be inspected are omitted.
func (b *Broker) GetAllQueuesInfo() map[string]QueueInfo {
	infos := make(map[string]QueueInfo)
	for _, queue := range []string{GraphQueue, VectorQueue, DeadLetterQueue} {
		info, err := b.GetQueueInfo(queue)
		if err != nil {
			b.logger.WithError(err).WithField("queue", queue).Warn("Failed to get queue info")
			continue
		}
		infos[queue] = info
	}
	return infos
}

// Purge drops every message in a queue and returns how many were dropped.
func (b *Broker) Purge(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil {
		b.closeLocked()
		if err := b.connectLocked(); err != nil {
			return 0, err
		}
	}

	count, err := b.ch.QueuePurge(name, false)
	if err != nil {
		return 0, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to purge queue %s: %w", name, err))
	}

	b.logger.WithFields(logrus.Fields{
		"queue": name,
		"count": count,
	}).Warn("Purged queue")
	return count, nil
}

// HealthStatus reports connection health plus per-queue depths.
type HealthStatus struct {
	Status string               `json:"status"`
	Host   string               `json:"host"`
	Port   int                  `json:"port"`
	Error  string               `json:"error,omitempty"`
	Queues map[string]QueueInfo `json:"queues,omitempty"`
}

func (b *Broker) Health() HealthStatus {
	b.mu.Lock()
	connected := b.conn != nil && !b.conn.IsClosed()
	if !connected {
		b.closeLocked()
		if err := b.connectLocked(); err != nil {
			b.mu.Unlock()
			return HealthStatus{
				Status: "unhealthy",
				Host:   b.cfg.Host,
				Port:   b.cfg.Port,
				Error:  err.Error(),
			}
		}
	}
	b.mu.Unlock()

	return HealthStatus{
		Status: "healthy",
		Host:   b.cfg.Host,
		Port:   b.cfg.Port,
		Queues: b.GetAllQueuesInfo(),
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	b.logger.Info("Broker connection closed")
	return nil
}

func (b *Broker) closeLocked() {
	if b.ch != nil {
		b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
