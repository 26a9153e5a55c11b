package workers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

// GraphWriter is the slice of the graph store the appliers write through.
type GraphWriter interface {
	RecordInteraction(ctx context.Context, in graph.Interaction) error
	RecordBatch(ctx context.Context, interactions []graph.Interaction) (int, error)
}

// GraphApplier projects envelopes into the interaction graph, one write per
// event.
type GraphApplier struct {
	store GraphWriter
}

func NewGraphApplier(store GraphWriter) *GraphApplier {
	return &GraphApplier{store: store}
}

func (a *GraphApplier) Name() string  { return "graph" }
func (a *GraphApplier) Queue() string { return messaging.GraphQueue }

func (a *GraphApplier) Apply(ctx context.Context, env models.Envelope) error {
	if env.UserID == nil || *env.UserID == 0 {
		return errkind.Errorf(errkind.InvalidInput, "envelope has no user_id")
	}
	return a.store.RecordInteraction(ctx, graph.Interaction{
		UserID:    *env.UserID,
		ProductID: env.ProductID,
		EventType: env.EventType,
		SessionID: env.UserSession,
		EventTime: env.EventTime.Time,
	})
}

// VectorApplier drains the vector-side queue. Product embeddings are written
// by the catalog surface, not per interaction, so a validated envelope needs
// no work here; the queue exists so the fanout topology stays symmetric and
// interaction volume remains observable per store.
type VectorApplier struct {
	logger *logrus.Logger
}

func NewVectorApplier(logger *logrus.Logger) *VectorApplier {
	return &VectorApplier{logger: logger}
}

func (a *VectorApplier) Name() string  { return "vector" }
func (a *VectorApplier) Queue() string { return messaging.VectorQueue }

func (a *VectorApplier) Apply(_ context.Context, env models.Envelope) error {
	a.logger.WithFields(logrus.Fields{
		"event_type": env.EventType,
		"product_id": env.ProductID,
	}).Debug("Vector projection acknowledged")
	return nil
}
