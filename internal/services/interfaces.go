package services

import (
	"context"

	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/internal/vector"
	"github.com/lumora/affinity/pkg/models"
)

// GraphStore is the slice of the interaction graph the services consume.
type GraphStore interface {
	RecordInteraction(ctx context.Context, in graph.Interaction) error
	RecordBatch(ctx context.Context, interactions []graph.Interaction) (int, error)
	Collaborative(ctx context.Context, userID int64, limit, minShared int) ([]graph.CollaborativeItem, error)
	Trending(ctx context.Context, limit int, eventTypes []string) ([]graph.TrendingItem, error)
	UserHistory(ctx context.Context, userID int64, limit int, eventTypes []string) ([]graph.HistoryEntry, error)
	RecentViewed(ctx context.Context, userID int64, limit int) ([]graph.RecentProduct, error)
	HasRecentPurchase(ctx context.Context, userID int64, lookbackHours int) (graph.PurchaseCheck, error)
	PurchaseHistory(ctx context.Context, userID int64, limit int) ([]graph.HistoryEntry, error)
	Complementary(ctx context.Context, productID int64, limit int) ([]graph.ComplementaryItem, error)
	Stats(ctx context.Context) (graph.Stats, error)
	VerifyConnectivity(ctx context.Context) error
}

// VectorStore is the slice of the embedding store the services consume.
type VectorStore interface {
	Search(ctx context.Context, vec []float64, opts vector.SearchOptions) ([]vector.Point, error)
	Retrieve(ctx context.Context, ids []int64, withVectors bool) ([]vector.Point, error)
	GetCollectionInfo(ctx context.Context) (vector.CollectionInfo, error)
	Healthy(ctx context.Context) error
}

// EventBroker publishes admission envelopes and reports broker health.
type EventBroker interface {
	Publish(ctx context.Context, env models.Envelope) error
	PublishBatch(ctx context.Context, envs []models.Envelope) int
	Health() messaging.HealthStatus
}
