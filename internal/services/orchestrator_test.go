package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/internal/vector"
	"github.com/lumora/affinity/pkg/models"
)

// stubGraph returns canned results per operation; unset slices read as empty.
type stubGraph struct {
	collaborative []graph.CollaborativeItem
	trending      []graph.TrendingItem
	trendingTyped []graph.TrendingItem
	history       []graph.HistoryEntry
	recent        []graph.RecentProduct
	purchaseCheck graph.PurchaseCheck
	purchases     []graph.HistoryEntry
	complementary []graph.ComplementaryItem

	modeErr error

	recorded []graph.Interaction
}

func (s *stubGraph) RecordInteraction(_ context.Context, in graph.Interaction) error {
	s.recorded = append(s.recorded, in)
	return nil
}

func (s *stubGraph) RecordBatch(_ context.Context, ins []graph.Interaction) (int, error) {
	s.recorded = append(s.recorded, ins...)
	return len(ins), nil
}

func (s *stubGraph) Collaborative(context.Context, int64, int, int) ([]graph.CollaborativeItem, error) {
	return s.collaborative, nil
}

func (s *stubGraph) Trending(_ context.Context, _ int, eventTypes []string) ([]graph.TrendingItem, error) {
	if len(eventTypes) > 0 {
		return s.trendingTyped, nil
	}
	return s.trending, nil
}

func (s *stubGraph) UserHistory(context.Context, int64, int, []string) ([]graph.HistoryEntry, error) {
	if s.modeErr != nil {
		return nil, s.modeErr
	}
	return s.history, nil
}

func (s *stubGraph) RecentViewed(context.Context, int64, int) ([]graph.RecentProduct, error) {
	return s.recent, nil
}

func (s *stubGraph) HasRecentPurchase(context.Context, int64, int) (graph.PurchaseCheck, error) {
	if s.modeErr != nil {
		return graph.PurchaseCheck{}, s.modeErr
	}
	return s.purchaseCheck, nil
}

func (s *stubGraph) PurchaseHistory(context.Context, int64, int) ([]graph.HistoryEntry, error) {
	return s.purchases, nil
}

func (s *stubGraph) Complementary(context.Context, int64, int) ([]graph.ComplementaryItem, error) {
	return s.complementary, nil
}

func (s *stubGraph) Stats(context.Context) (graph.Stats, error) { return graph.Stats{}, nil }
func (s *stubGraph) VerifyConnectivity(context.Context) error   { return nil }

type stubVector struct {
	points  map[int64]vector.Point
	results []vector.Point
}

func (s *stubVector) Search(context.Context, []float64, vector.SearchOptions) ([]vector.Point, error) {
	return s.results, nil
}

func (s *stubVector) Retrieve(_ context.Context, ids []int64, _ bool) ([]vector.Point, error) {
	var out []vector.Point
	for _, id := range ids {
		if p, ok := s.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubVector) GetCollectionInfo(context.Context) (vector.CollectionInfo, error) {
	return vector.CollectionInfo{}, nil
}

func (s *stubVector) Healthy(context.Context) error { return nil }

type stubBroker struct {
	published []models.Envelope
	fail      bool
}

func (s *stubBroker) Publish(_ context.Context, env models.Envelope) error {
	if s.fail {
		return errors.New("broker down")
	}
	s.published = append(s.published, env)
	return nil
}

func (s *stubBroker) PublishBatch(ctx context.Context, envs []models.Envelope) int {
	n := 0
	for _, env := range envs {
		if s.Publish(ctx, env) == nil {
			n++
		}
	}
	return n
}

func (s *stubBroker) Health() messaging.HealthStatus {
	return messaging.HealthStatus{Status: "healthy"}
}

func testRecommendConfig() *config.RecommendConfig {
	return &config.RecommendConfig{
		Weights:              config.WeightsConfig{Behavioral: 0.3, Trending: 0.2, Activity: 0.5},
		MMRDiversity:         config.MMRDiversityConfig{Default: 0.7},
		PostPurchase:         config.PostPurchaseConfig{LookbackHours: 24},
		DefaultLimit:         20,
		MinSharedInteraction: 1,
	}
}

func newTestOrchestrator(g GraphStore, v VectorStore) *OrchestratorService {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewOrchestratorService(g, v, nil, testRecommendConfig(), logger)
}

func TestAllocateBudgets(t *testing.T) {
	tests := []struct {
		name       string
		wb, wt, wa float64
		total      int
		expected   [3]int
	}{
		{"defaults over 20", 0.3, 0.2, 0.5, 20, [3]int{6, 4, 10}},
		{"rounding residue to activity", 0.3, 0.3, 0.4, 10, [3]int{3, 3, 4}},
		{"uneven floors", 0.5, 0.5, 0.0, 7, [3]int{3, 3, 1}},
		{"zero weights", 0, 0, 0, 10, [3]int{0, 0, 10}},
		{"single item", 0.3, 0.2, 0.5, 1, [3]int{0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, tr, a := allocateBudgets(tt.wb, tt.wt, tt.wa, tt.total)
			assert.Equal(t, tt.expected, [3]int{b, tr, a})
			assert.Equal(t, tt.total, b+tr+a, "budgets must sum to total")
		})
	}
}

func TestDedupeKeepBest(t *testing.T) {
	items := []models.RecommendationItem{
		{ProductID: 1, Score: 10, Source: models.SourceBehavioral},
		{ProductID: 2, Score: 5, Source: models.SourceTrending},
		{ProductID: 1, Score: 20, Source: models.SourceTrending},
		{ProductID: 3, Score: 1, Source: models.SourceTrending},
		{ProductID: 2, Score: 5, Source: models.SourceComplementary},
	}

	unique := dedupeKeepBest(items)

	require.Len(t, unique, 3)
	// First occurrence keeps its position but takes the better duplicate.
	assert.Equal(t, int64(1), unique[0].ProductID)
	assert.Equal(t, 20.0, unique[0].Score)
	assert.Equal(t, models.SourceTrending, unique[0].Source)
	// Equal score does not replace.
	assert.Equal(t, int64(2), unique[1].ProductID)
	assert.Equal(t, models.SourceTrending, unique[1].Source)
	assert.Equal(t, int64(3), unique[2].ProductID)
}

func TestDedupeKeepBestIdempotent(t *testing.T) {
	items := []models.RecommendationItem{
		{ProductID: 1, Score: 10},
		{ProductID: 1, Score: 20},
		{ProductID: 2, Score: 5},
	}

	once := dedupeKeepBest(items)
	twice := dedupeKeepBest(once)

	assert.Equal(t, once, twice)
}

func TestDetermineUserMode(t *testing.T) {
	ctx := context.Background()

	t.Run("post purchase", func(t *testing.T) {
		g := &stubGraph{purchaseCheck: graph.PurchaseCheck{
			HasPurchase:            true,
			LastPurchasedProductID: 42,
		}}
		svc := newTestOrchestrator(g, &stubVector{})

		mode, modeCtx := svc.DetermineUserMode(ctx, 1)
		assert.Equal(t, models.ModePostPurchase, mode)
		assert.Equal(t, int64(42), modeCtx["last_purchased_product_id"])
	})

	t.Run("browsing", func(t *testing.T) {
		g := &stubGraph{history: []graph.HistoryEntry{{ProductID: 1}, {ProductID: 2}}}
		svc := newTestOrchestrator(g, &stubVector{})

		mode, modeCtx := svc.DetermineUserMode(ctx, 1)
		assert.Equal(t, models.ModeBrowsing, mode)
		assert.Equal(t, 2, modeCtx["recent_interactions"])
	})

	t.Run("cold start", func(t *testing.T) {
		svc := newTestOrchestrator(&stubGraph{}, &stubVector{})

		mode, modeCtx := svc.DetermineUserMode(ctx, 1)
		assert.Equal(t, models.ModeColdStart, mode)
		assert.Nil(t, modeCtx)
	})

	t.Run("adapter error degrades to cold start", func(t *testing.T) {
		g := &stubGraph{modeErr: errors.New("graph down")}
		svc := newTestOrchestrator(g, &stubVector{})

		mode, modeCtx := svc.DetermineUserMode(ctx, 1)
		assert.Equal(t, models.ModeColdStart, mode)
		assert.Nil(t, modeCtx)
	})
}

func TestOrchestratedColdStart(t *testing.T) {
	g := &stubGraph{
		trending: []graph.TrendingItem{
			{ProductID: 1, TotalInteractions: 100, UniqueUsers: 40},
			{ProductID: 2, TotalInteractions: 50, UniqueUsers: 20},
		},
		trendingTyped: []graph.TrendingItem{
			{ProductID: 1, TotalInteractions: 30, UniqueUsers: 10}, // duplicate, lower score
			{ProductID: 3, TotalInteractions: 80, UniqueUsers: 25},
		},
	}
	svc := newTestOrchestrator(g, &stubVector{})

	resp, err := svc.Orchestrated(context.Background(), models.OrchestratedRequest{UserID: 9, TotalLimit: 10})
	require.NoError(t, err)

	assert.Equal(t, models.ModeColdStart, resp.Mode)
	assert.Nil(t, resp.ModeContext)
	assert.Equal(t, []string{"trending"}, resp.SourcesUsed)
	assert.Contains(t, resp.Strategy, "New user mode")

	// Deduplicated and sorted by score desc.
	require.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, int64(1), resp.Recommendations[0].ProductID)
	assert.Equal(t, 100.0, resp.Recommendations[0].Score)
	assert.Equal(t, int64(3), resp.Recommendations[1].ProductID)
	assert.Equal(t, int64(2), resp.Recommendations[2].ProductID)
}

func TestOrchestratedPostPurchase(t *testing.T) {
	g := &stubGraph{
		purchaseCheck: graph.PurchaseCheck{HasPurchase: true, LastPurchasedProductID: 7},
		collaborative: []graph.CollaborativeItem{
			{ProductID: 10, RecommenderCount: 3, TotalScore: 90},
		},
		trending: []graph.TrendingItem{
			{ProductID: 11, TotalInteractions: 60, UniqueUsers: 12},
		},
		purchases: []graph.HistoryEntry{{ProductID: 7}, {ProductID: 20}},
		complementary: []graph.ComplementaryItem{
			{ProductID: 20, BuyerCount: 9, Score: 30}, // already purchased, excluded
			{ProductID: 21, BuyerCount: 4, Score: 12},
		},
	}
	svc := newTestOrchestrator(g, &stubVector{})

	resp, err := svc.Orchestrated(context.Background(), models.OrchestratedRequest{UserID: 9, TotalLimit: 10})
	require.NoError(t, err)

	assert.Equal(t, models.ModePostPurchase, resp.Mode)
	assert.Equal(t, []string{"behavioral", "trending", "complementary"}, resp.SourcesUsed)

	ids := make([]int64, 0, len(resp.Recommendations))
	for _, r := range resp.Recommendations {
		ids = append(ids, r.ProductID)
	}
	assert.Contains(t, ids, int64(21))
	assert.NotContains(t, ids, int64(20), "prior purchases are excluded")

	for _, r := range resp.Recommendations {
		if r.ProductID == 10 {
			assert.Equal(t, "Based on 3 similar users", r.Reason)
		}
	}
}

func TestOrchestratedBrowsingExcludesSeen(t *testing.T) {
	g := &stubGraph{
		purchaseCheck: graph.PurchaseCheck{},
		history:       []graph.HistoryEntry{{ProductID: 1}},
		recent:        []graph.RecentProduct{{ProductID: 1}},
		trending: []graph.TrendingItem{
			{ProductID: 2, TotalInteractions: 50, UniqueUsers: 10},
		},
	}
	v := &stubVector{
		points: map[int64]vector.Point{
			1: {ID: 1, Vector: []float64{1, 0}},
		},
		results: []vector.Point{
			{ID: 1, Score: 0.99}, // the anchor itself, must be excluded
			{ID: 2, Score: 0.95}, // already in accumulator via trending
			{ID: 3, Score: 0.90},
		},
	}
	svc := newTestOrchestrator(g, v)

	resp, err := svc.Orchestrated(context.Background(), models.OrchestratedRequest{UserID: 9, TotalLimit: 10})
	require.NoError(t, err)

	assert.Equal(t, models.ModeBrowsing, resp.Mode)
	assert.Contains(t, resp.SourcesUsed, "semantic_similar")

	count := map[int64]int{}
	for _, r := range resp.Recommendations {
		count[r.ProductID]++
	}
	assert.Equal(t, 0, count[1], "anchor product must not be recommended")
	assert.Equal(t, 1, count[2], "duplicates collapse to one entry")
	assert.Equal(t, 1, count[3])
}

func TestOrchestratedStripsReasons(t *testing.T) {
	g := &stubGraph{
		trending: []graph.TrendingItem{{ProductID: 1, TotalInteractions: 5, UniqueUsers: 2}},
	}
	svc := newTestOrchestrator(g, &stubVector{})

	noReasons := false
	resp, err := svc.Orchestrated(context.Background(), models.OrchestratedRequest{
		UserID:         9,
		TotalLimit:     5,
		IncludeReasons: &noReasons,
	})
	require.NoError(t, err)

	for _, r := range resp.Recommendations {
		assert.Empty(t, r.Reason)
	}
}

func TestOrchestratedEnrichesPayloads(t *testing.T) {
	g := &stubGraph{
		trending: []graph.TrendingItem{{ProductID: 5, TotalInteractions: 9, UniqueUsers: 3}},
	}
	v := &stubVector{
		points: map[int64]vector.Point{
			5: {ID: 5, Payload: map[string]interface{}{"title": "espresso machine"}},
		},
	}
	svc := newTestOrchestrator(g, v)

	resp, err := svc.Orchestrated(context.Background(), models.OrchestratedRequest{UserID: 9, TotalLimit: 5})
	require.NoError(t, err)

	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "espresso machine", resp.Recommendations[0].Payload["title"])
}

func TestForYouPagination(t *testing.T) {
	// 12 trending products, scores descending with product id.
	var trending []graph.TrendingItem
	for i := 1; i <= 12; i++ {
		trending = append(trending, graph.TrendingItem{
			ProductID:         int64(i),
			TotalInteractions: int64(100 - i),
			UniqueUsers:       int64(i),
		})
	}
	g := &stubGraph{trending: trending}
	svc := newTestOrchestrator(g, &stubVector{})

	page1, err := svc.ForYou(context.Background(), models.ForYouRequest{UserID: 9, Page: 1, PageSize: 5})
	require.NoError(t, err)
	require.Len(t, page1.Recommendations, 5)
	assert.Equal(t, int64(1), page1.Recommendations[0].ProductID)
	assert.True(t, page1.HasMore)

	page2, err := svc.ForYou(context.Background(), models.ForYouRequest{UserID: 9, Page: 2, PageSize: 5})
	require.NoError(t, err)
	require.Len(t, page2.Recommendations, 5)
	assert.Equal(t, int64(6), page2.Recommendations[0].ProductID)

	page3, err := svc.ForYou(context.Background(), models.ForYouRequest{UserID: 9, Page: 3, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, page3.Recommendations, 2)
	assert.False(t, page3.HasMore)
}

func TestFloatOr(t *testing.T) {
	v := 0.4
	assert.Equal(t, 0.4, floatOr(&v, 0.7))
	assert.Equal(t, 0.7, floatOr(nil, 0.7))

	zero := 0.0
	assert.Equal(t, 0.0, floatOr(&zero, 0.7), "explicit zero is respected")
}
