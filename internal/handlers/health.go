package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/services"
)

type HealthHandler struct {
	logger        *logrus.Logger
	healthService *services.HealthService
}

func NewHealthHandler(logger *logrus.Logger, healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
	}
}

// Check reports aggregate dependency health. Degraded still answers 200; the
// service keeps serving from the stores that are up.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth()

	httpStatus := http.StatusOK
	switch status.Status {
	case "healthy", "degraded":
	case "unhealthy":
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	c.JSON(httpStatus, status)
}
