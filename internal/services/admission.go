package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

// AdmissionService accepts interaction events and dispatches them either to
// the broker (async projection) or straight into the graph, depending on
// configuration.
type AdmissionService struct {
	config *config.Config
	logger *logrus.Logger
	broker EventBroker
	graph  GraphStore
}

func NewAdmissionService(cfg *config.Config, logger *logrus.Logger, broker EventBroker, store GraphStore) *AdmissionService {
	return &AdmissionService{
		config: cfg,
		logger: logger,
		broker: broker,
		graph:  store,
	}
}

// Admit accepts one event. callerID comes from the bearer token and, when
// non-zero, overrides any user_id in the body.
func (s *AdmissionService) Admit(ctx context.Context, req models.EventCreate, callerID int64) (*models.EventAck, error) {
	env, ok := s.buildEnvelope(req, callerID)
	if !ok {
		return nil, errkind.Errorf(errkind.InvalidInput, "event has no resolvable user_id")
	}

	if s.config.UseBroker {
		if err := s.broker.Publish(ctx, env); err != nil {
			return nil, err
		}
		return &models.EventAck{Message: "Event queued for processing", Data: env}, nil
	}

	err := s.graph.RecordInteraction(ctx, graph.Interaction{
		UserID:    *env.UserID,
		ProductID: env.ProductID,
		EventType: env.EventType,
		SessionID: env.UserSession,
		EventTime: env.EventTime.Time,
	})
	if err != nil {
		return nil, err
	}
	return &models.EventAck{Message: "Event recorded", Data: env}, nil
}

// AdmitBatch accepts a list of events. Elements without a resolvable user_id
// are skipped; if every element is skipped the whole call is invalid.
func (s *AdmissionService) AdmitBatch(ctx context.Context, req models.EventBatchCreate, callerID int64) (*models.EventBatchAck, error) {
	envs := make([]models.Envelope, 0, len(req.Events))
	skipped := 0
	for _, ev := range req.Events {
		env, ok := s.buildEnvelope(ev, callerID)
		if !ok {
			skipped++
			continue
		}
		envs = append(envs, env)
	}

	if len(envs) == 0 {
		return nil, errkind.Errorf(errkind.InvalidInput, "no events with a resolvable user_id")
	}

	if s.config.UseBroker {
		published := s.broker.PublishBatch(ctx, envs)
		return &models.EventBatchAck{
			Message: "Events queued for processing",
			Count:   published,
			Skipped: skipped,
		}, nil
	}

	interactions := make([]graph.Interaction, len(envs))
	for i, env := range envs {
		interactions[i] = graph.Interaction{
			UserID:    *env.UserID,
			ProductID: env.ProductID,
			EventType: env.EventType,
			SessionID: env.UserSession,
			EventTime: env.EventTime.Time,
		}
	}

	count, err := s.graph.RecordBatch(ctx, interactions)
	if err != nil {
		return nil, err
	}
	return &models.EventBatchAck{
		Message: "Events recorded",
		Count:   count,
		Skipped: skipped,
	}, nil
}

func (s *AdmissionService) buildEnvelope(req models.EventCreate, callerID int64) (models.Envelope, bool) {
	userID := req.UserID
	if callerID != 0 {
		userID = &callerID
	}
	if userID == nil || *userID == 0 {
		return models.Envelope{}, false
	}

	eventTime := models.NewEventTime(time.Now())
	if req.EventTime != nil && !req.EventTime.IsZero() {
		eventTime = models.NewEventTime(req.EventTime.Time)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    *userID,
		"product_id": req.ProductID,
		"event_type": req.EventType,
	}).Debug("Admitted event")

	return models.Envelope{
		EventTime:   eventTime,
		EventType:   req.EventType,
		ProductID:   req.ProductID,
		UserID:      userID,
		UserSession: req.UserSession,
	}, true
}
