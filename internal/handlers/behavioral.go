package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/graph"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

// GraphReader is the read-query surface of the graph store this handler
// exposes over HTTP.
type GraphReader interface {
	Collaborative(ctx context.Context, userID int64, limit, minShared int) ([]graph.CollaborativeItem, error)
	SimilarUsers(ctx context.Context, userID int64, limit int) ([]graph.SimilarUser, error)
	UserHistory(ctx context.Context, userID int64, limit int, eventTypes []string) ([]graph.HistoryEntry, error)
	SimilarProducts(ctx context.Context, productID int64, limit int) ([]graph.SimilarProduct, error)
	BoughtTogether(ctx context.Context, productID int64, limit int) ([]graph.BoughtTogetherItem, error)
	AlsoViewed(ctx context.Context, productID int64, limit int) ([]graph.AlsoViewedItem, error)
	ProductStats(ctx context.Context, productID int64) (*graph.ProductStats, error)
	Trending(ctx context.Context, limit int, eventTypes []string) ([]graph.TrendingItem, error)
	RerankByPopularity(ctx context.Context, productIDs []int64, limit int) ([]graph.PopularityRank, error)
	RerankForUser(ctx context.Context, productIDs []int64, userID int64, limit int) ([]graph.PersonalRank, error)
	Stats(ctx context.Context) (graph.Stats, error)
}

// BehavioralHandler exposes the graph read queries directly. These are the
// raw sources the orchestrator blends; callers that want to do their own
// blending hit them here.
type BehavioralHandler struct {
	logger    *logrus.Logger
	graph     GraphReader
	validator *validator.Validate
}

func NewBehavioralHandler(logger *logrus.Logger, store GraphReader) *BehavioralHandler {
	return &BehavioralHandler{
		logger:    logger,
		graph:     store,
		validator: validator.New(),
	}
}

func (h *BehavioralHandler) Collaborative(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	limit := queryLimit(c, 20)
	minShared, _ := strconv.Atoi(c.DefaultQuery("min_shared", "1"))

	items, err := h.graph.Collaborative(c.Request.Context(), userID, limit, minShared)
	if err != nil {
		h.graphError(c, err, "Failed to get collaborative recommendations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "count": len(items), "recommendations": items})
}

func (h *BehavioralHandler) SimilarUsers(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	items, err := h.graph.SimilarUsers(c.Request.Context(), userID, queryLimit(c, 10))
	if err != nil {
		h.graphError(c, err, "Failed to get similar users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "count": len(items), "similar_users": items})
}

func (h *BehavioralHandler) History(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	var eventTypes []string
	if raw := c.Query("event_type"); raw != "" {
		if !models.ValidEventType(raw) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_EVENT_TYPE",
					"message": "event_type must be view, cart or purchase",
				},
			})
			return
		}
		eventTypes = []string{raw}
	}

	items, err := h.graph.UserHistory(c.Request.Context(), userID, queryLimit(c, 50), eventTypes)
	if err != nil {
		h.graphError(c, err, "Failed to get user history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "count": len(items), "history": items})
}

func (h *BehavioralHandler) SimilarProducts(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	items, err := h.graph.SimilarProducts(c.Request.Context(), productID, queryLimit(c, 10))
	if err != nil {
		h.graphError(c, err, "Failed to get similar products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "count": len(items), "similar_products": items})
}

func (h *BehavioralHandler) BoughtTogether(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	items, err := h.graph.BoughtTogether(c.Request.Context(), productID, queryLimit(c, 10))
	if err != nil {
		h.graphError(c, err, "Failed to get bought-together products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "count": len(items), "bought_together": items})
}

func (h *BehavioralHandler) AlsoViewed(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	items, err := h.graph.AlsoViewed(c.Request.Context(), productID, queryLimit(c, 10))
	if err != nil {
		h.graphError(c, err, "Failed to get also-viewed products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "count": len(items), "also_viewed": items})
}

func (h *BehavioralHandler) ProductStats(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	stats, err := h.graph.ProductStats(c.Request.Context(), productID)
	if err != nil {
		h.graphError(c, err, "Failed to get product stats")
		return
	}
	// A nil result means the product node is absent; a product with zero
	// interactions still gets zeroed stats back.
	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "PRODUCT_NOT_FOUND",
				"message": "Product not found",
			},
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *BehavioralHandler) Trending(c *gin.Context) {
	var eventTypes []string
	if raw := c.Query("event_type"); raw != "" {
		if !models.ValidEventType(raw) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_EVENT_TYPE",
					"message": "event_type must be view, cart or purchase",
				},
			})
			return
		}
		eventTypes = []string{raw}
	}

	items, err := h.graph.Trending(c.Request.Context(), queryLimit(c, 20), eventTypes)
	if err != nil {
		h.graphError(c, err, "Failed to get trending products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "trending": items})
}

// Rerank re-scores caller-supplied candidates: by popularity for anonymous
// requests, by similar-user affinity when a user id is present.
func (h *BehavioralHandler) Rerank(c *gin.Context) {
	var req models.RerankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	if req.UserID != nil && *req.UserID > 0 {
		items, err := h.graph.RerankForUser(c.Request.Context(), req.ProductIDs, *req.UserID, req.Limit)
		if err != nil {
			h.graphError(c, err, "Failed to rerank products")
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": *req.UserID, "count": len(items), "ranked": items})
		return
	}

	items, err := h.graph.RerankByPopularity(c.Request.Context(), req.ProductIDs, req.Limit)
	if err != nil {
		h.graphError(c, err, "Failed to rerank products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "ranked": items})
}

func (h *BehavioralHandler) Stats(c *gin.Context) {
	stats, err := h.graph.Stats(c.Request.Context())
	if err != nil {
		h.graphError(c, err, "Failed to get graph stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *BehavioralHandler) graphError(c *gin.Context, err error, message string) {
	h.logger.WithError(err).Error(message)
	c.JSON(errkind.HTTPStatus(err), gin.H{
		"error": gin.H{
			"code":    "GRAPH_QUERY_FAILED",
			"message": message,
		},
	})
}

func queryLimit(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > 100 {
		return 100
	}
	return limit
}
