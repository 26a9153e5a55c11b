package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/services"
	"github.com/lumora/affinity/pkg/models"
)

type OrchestratorHandler struct {
	logger       *logrus.Logger
	orchestrator *services.OrchestratorService
	health       *services.HealthService
	validator    *validator.Validate
}

func NewOrchestratorHandler(logger *logrus.Logger, orchestrator *services.OrchestratorService, health *services.HealthService) *OrchestratorHandler {
	return &OrchestratorHandler{
		logger:       logger,
		orchestrator: orchestrator,
		health:       health,
		validator:    validator.New(),
	}
}

// Get runs the orchestrated pass with query-parameter knobs only.
func (h *OrchestratorHandler) Get(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	req := models.OrchestratedRequest{UserID: userID}
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil {
		req.TotalLimit = v
	}
	if raw := c.Query("mmr_diversity"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			req.MMRDiversity = &v
		}
	}
	if raw := c.Query("include_reasons"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			req.IncludeReasons = &v
		}
	}

	resp, err := h.orchestrator.Orchestrated(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to orchestrate recommendations")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "ORCHESTRATION_FAILED",
				"message": "Failed to build recommendations",
			},
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Post runs the orchestrated pass with full weight control from the body.
func (h *OrchestratorHandler) Post(c *gin.Context) {
	var req models.OrchestratedRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.orchestrator.Orchestrated(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to orchestrate recommendations")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "ORCHESTRATION_FAILED",
				"message": "Failed to build recommendations",
			},
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ForYou is the paginated feed, POST body variant.
func (h *OrchestratorHandler) ForYou(c *gin.Context) {
	var req models.ForYouRequest
	if !h.bind(c, &req) {
		return
	}
	h.forYou(c, req)
}

// ForYouGet is the paginated feed with query parameters.
func (h *OrchestratorHandler) ForYouGet(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	req := models.ForYouRequest{UserID: userID}
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		req.Page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("page_size", "0")); err == nil {
		req.PageSize = v
	}
	h.forYou(c, req)
}

func (h *OrchestratorHandler) forYou(c *gin.Context, req models.ForYouRequest) {
	resp, err := h.orchestrator.ForYou(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to build for-you feed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "ORCHESTRATION_FAILED",
				"message": "Failed to build recommendations",
			},
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UserMode exposes the mode classification on its own.
func (h *OrchestratorHandler) UserMode(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	mode, modeContext := h.orchestrator.DetermineUserMode(c.Request.Context(), userID)
	c.JSON(http.StatusOK, models.UserModeResponse{
		UserID:              userID,
		Mode:                mode,
		Context:             modeContext,
		StrategyDescription: services.StrategyDescription(mode),
	})
}

// SimilarToRecent runs the semantic source alone.
func (h *OrchestratorHandler) SimilarToRecent(c *gin.Context) {
	var req models.SimilarToRecentRequest
	if !h.bind(c, &req) {
		return
	}

	items := h.orchestrator.SimilarToRecent(c.Request.Context(), req)
	c.JSON(http.StatusOK, gin.H{
		"user_id":         req.UserID,
		"total_count":     len(items),
		"recommendations": items,
	})
}

// Complementary runs the complementary source alone.
func (h *OrchestratorHandler) Complementary(c *gin.Context) {
	var req models.ComplementaryRequest
	if !h.bind(c, &req) {
		return
	}

	items := h.orchestrator.ComplementaryFor(c.Request.Context(), req)
	c.JSON(http.StatusOK, gin.H{
		"user_id":              req.UserID,
		"purchased_product_id": req.PurchasedProductID,
		"total_count":          len(items),
		"recommendations":      items,
	})
}

// Trending returns popular products, optionally filtered by event type.
func (h *OrchestratorHandler) Trending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

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

	items := h.orchestrator.Trending(c.Request.Context(), limit, eventTypes)
	c.JSON(http.StatusOK, gin.H{
		"total_count":     len(items),
		"recommendations": items,
	})
}

// Health aggregates the orchestrator's dependencies.
func (h *OrchestratorHandler) Health(c *gin.Context) {
	status := h.health.CheckHealth()
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *OrchestratorHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.WithError(err).Error("Failed to bind orchestrator request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.WithError(err).Error("Validation failed for orchestrator request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return false
	}
	return true
}

// pathID parses a positive integer id path parameter, answering 400 itself
// when the value is unusable.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": name + " must be a positive integer",
			},
		})
		return 0, false
	}
	return id, true
}
