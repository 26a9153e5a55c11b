package services

import (
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/database"
	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/internal/vector"
)

type Services struct {
	Auth         *AuthService
	Health       *HealthService
	RateLimit    *RateLimitService
	Admission    *AdmissionService
	Orchestrator *OrchestratorService
	Graph        *graph.Store
	Vector       *vector.Client
	Broker       *messaging.Broker
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	graphStore := graph.New(db.Graph, logger)
	vectorClient := vector.NewClient(cfg.Vector, logger)

	var broker *messaging.Broker
	var eventBroker EventBroker
	if cfg.UseBroker {
		var err error
		broker, err = messaging.NewBroker(cfg, logger)
		if err != nil {
			return nil, err
		}
		eventBroker = broker
	}

	authService := NewAuthService(cfg, logger, db.Redis)
	rateLimitService := NewRateLimitService(cfg, logger, db.Redis)
	healthService := NewHealthService(cfg, logger, db, graphStore, vectorClient, eventBroker)
	admissionService := NewAdmissionService(cfg, logger, eventBroker, graphStore)
	orchestratorService := NewOrchestratorService(graphStore, vectorClient, db.Redis, &cfg.Recommend, logger)

	return &Services{
		Auth:         authService,
		Health:       healthService,
		RateLimit:    rateLimitService,
		Admission:    admissionService,
		Orchestrator: orchestratorService,
		Graph:        graphStore,
		Vector:       vectorClient,
		Broker:       broker,
	}, nil
}

// Close releases broker resources. Database handles are owned by the caller.
func (s *Services) Close() error {
	if s.Broker != nil {
		return s.Broker.Close()
	}
	return nil
}
