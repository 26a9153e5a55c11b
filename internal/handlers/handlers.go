package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/services"
	"github.com/lumora/affinity/internal/vector"
)

type Handlers struct {
	Health       *HealthHandler
	Event        *EventHandler
	Orchestrator *OrchestratorHandler
	Behavioral   *BehavioralHandler
	Catalog      *CatalogHandler
	Broker       *BrokerHandler
}

func New(cfg *config.Config, logger *logrus.Logger, services *services.Services) *Handlers {
	embedder := vector.NewFeatureHasher(cfg.Vector.Dimension)

	return &Handlers{
		Health:       NewHealthHandler(logger, services.Health),
		Event:        NewEventHandler(logger, services.Admission, cfg.UseBroker),
		Orchestrator: NewOrchestratorHandler(logger, services.Orchestrator, services.Health),
		Behavioral:   NewBehavioralHandler(logger, services.Graph),
		Catalog:      NewCatalogHandler(logger, services.Vector, embedder),
		Broker:       NewBrokerHandler(logger, services.Broker),
	}
}
