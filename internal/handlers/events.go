package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/middleware"
	"github.com/lumora/affinity/internal/services"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

type EventHandler struct {
	logger    *logrus.Logger
	admission *services.AdmissionService
	useBroker bool
	validator *validator.Validate
}

func NewEventHandler(logger *logrus.Logger, admission *services.AdmissionService, useBroker bool) *EventHandler {
	return &EventHandler{
		logger:    logger,
		admission: admission,
		useBroker: useBroker,
		validator: validator.New(),
	}
}

// Create admits one interaction event. Broker dispatch answers 202, a direct
// graph write answers 201.
func (h *EventHandler) Create(c *gin.Context) {
	var req models.EventCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to bind event request")
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
		h.logger.WithError(err).Error("Validation failed for event")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ack, err := h.admission.Admit(c.Request.Context(), req, middleware.CallerID(c))
	if err != nil {
		h.serviceError(c, err, "Failed to admit event")
		return
	}

	c.JSON(h.successStatus(), ack)
}

// CreateBatch admits a list of events in one call.
func (h *EventHandler) CreateBatch(c *gin.Context) {
	var req models.EventBatchCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to bind event batch request")
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
		h.logger.WithError(err).Error("Validation failed for event batch")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ack, err := h.admission.AdmitBatch(c.Request.Context(), req, middleware.CallerID(c))
	if err != nil {
		h.serviceError(c, err, "Failed to admit event batch")
		return
	}

	c.JSON(h.successStatus(), ack)
}

func (h *EventHandler) successStatus() int {
	if h.useBroker {
		return http.StatusAccepted
	}
	return http.StatusCreated
}

func (h *EventHandler) serviceError(c *gin.Context, err error, message string) {
	h.logger.WithError(err).Error(message)
	status := errkind.HTTPStatus(err)
	code := "ADMISSION_FAILED"
	if status == http.StatusBadRequest {
		code = "INVALID_EVENT"
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": err.Error(),
		},
	})
}
