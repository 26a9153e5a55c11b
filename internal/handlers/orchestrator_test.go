package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/internal/services"
	"github.com/lumora/affinity/internal/vector"
	"github.com/lumora/affinity/pkg/models"
)

// graphFixture is an empty-graph stub with optional trending data.
type graphFixture struct {
	trending []graph.TrendingItem
}

func (g *graphFixture) RecordInteraction(context.Context, graph.Interaction) error { return nil }
func (g *graphFixture) RecordBatch(_ context.Context, ins []graph.Interaction) (int, error) {
	return len(ins), nil
}
func (g *graphFixture) Collaborative(context.Context, int64, int, int) ([]graph.CollaborativeItem, error) {
	return nil, nil
}
func (g *graphFixture) Trending(context.Context, int, []string) ([]graph.TrendingItem, error) {
	return g.trending, nil
}
func (g *graphFixture) UserHistory(context.Context, int64, int, []string) ([]graph.HistoryEntry, error) {
	return nil, nil
}
func (g *graphFixture) RecentViewed(context.Context, int64, int) ([]graph.RecentProduct, error) {
	return nil, nil
}
func (g *graphFixture) HasRecentPurchase(context.Context, int64, int) (graph.PurchaseCheck, error) {
	return graph.PurchaseCheck{}, nil
}
func (g *graphFixture) PurchaseHistory(context.Context, int64, int) ([]graph.HistoryEntry, error) {
	return nil, nil
}
func (g *graphFixture) Complementary(context.Context, int64, int) ([]graph.ComplementaryItem, error) {
	return nil, nil
}
func (g *graphFixture) Stats(context.Context) (graph.Stats, error) { return graph.Stats{}, nil }
func (g *graphFixture) VerifyConnectivity(context.Context) error   { return nil }

type vectorFixture struct{}

func (v *vectorFixture) Search(context.Context, []float64, vector.SearchOptions) ([]vector.Point, error) {
	return nil, nil
}
func (v *vectorFixture) Retrieve(context.Context, []int64, bool) ([]vector.Point, error) {
	return nil, nil
}
func (v *vectorFixture) GetCollectionInfo(context.Context) (vector.CollectionInfo, error) {
	return vector.CollectionInfo{}, nil
}
func (v *vectorFixture) Healthy(context.Context) error { return nil }

func newOrchestratorRouter(g *graphFixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.RecommendConfig{
		Weights:      config.WeightsConfig{Behavioral: 0.3, Trending: 0.2, Activity: 0.5},
		MMRDiversity: config.MMRDiversityConfig{Default: 0.7},
		PostPurchase: config.PostPurchaseConfig{LookbackHours: 24},
		DefaultLimit: 20,
	}
	svc := services.NewOrchestratorService(g, &vectorFixture{}, nil, cfg, quietLogger())
	handler := NewOrchestratorHandler(quietLogger(), svc, nil)

	router := gin.New()
	router.GET("/orchestrator/recommendations/:userID", handler.Get)
	router.POST("/orchestrator/recommendations", handler.Post)
	router.GET("/orchestrator/for-you/:userID", handler.ForYouGet)
	router.GET("/orchestrator/user-mode/:userID", handler.UserMode)
	router.GET("/orchestrator/trending", handler.Trending)
	return router
}

func getPath(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOrchestratorGet(t *testing.T) {
	g := &graphFixture{trending: []graph.TrendingItem{
		{ProductID: 1, TotalInteractions: 50, UniqueUsers: 10},
	}}
	router := newOrchestratorRouter(g)

	w := getPath(t, router, "/orchestrator/recommendations/7?limit=5")

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.OrchestratedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.UserID)
	assert.Equal(t, models.ModeColdStart, resp.Mode)
	assert.NotEmpty(t, resp.Recommendations)
}

func TestOrchestratorGetInvalidUserID(t *testing.T) {
	router := newOrchestratorRouter(&graphFixture{})

	for _, path := range []string{
		"/orchestrator/recommendations/abc",
		"/orchestrator/recommendations/0",
		"/orchestrator/recommendations/-3",
	} {
		w := getPath(t, router, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "INVALID_ID")
	}
}

func TestOrchestratorPostValidation(t *testing.T) {
	router := newOrchestratorRouter(&graphFixture{})

	w := postJSON(t, router, "/orchestrator/recommendations", `{"total_limit": 5}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestOrchestratorUserMode(t *testing.T) {
	router := newOrchestratorRouter(&graphFixture{})

	w := getPath(t, router, "/orchestrator/user-mode/7")

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.UserModeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ModeColdStart, resp.Mode)
	assert.Contains(t, resp.StrategyDescription, "New user mode")
}

func TestOrchestratorForYouGet(t *testing.T) {
	g := &graphFixture{trending: []graph.TrendingItem{
		{ProductID: 1, TotalInteractions: 50, UniqueUsers: 10},
		{ProductID: 2, TotalInteractions: 40, UniqueUsers: 8},
	}}
	router := newOrchestratorRouter(g)

	w := getPath(t, router, "/orchestrator/for-you/7?page=1&page_size=1")

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ForYouResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Page)
	assert.Len(t, resp.Recommendations, 1)
	assert.True(t, resp.HasMore)
}

func TestOrchestratorTrendingRejectsBadEventType(t *testing.T) {
	router := newOrchestratorRouter(&graphFixture{})

	w := getPath(t, router, "/orchestrator/trending?event_type=refund")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_EVENT_TYPE")
}

func TestBrokerHandlerUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewBrokerHandler(quietLogger(), nil)

	router := gin.New()
	router.GET("/rabbitmq/health", handler.Health)
	router.GET("/rabbitmq/queues/:name", handler.QueueInfo)

	w := getPath(t, router, "/rabbitmq/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "BROKER_DISABLED")

	w = getPath(t, router, "/rabbitmq/queues/events.neo4j")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
