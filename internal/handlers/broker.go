package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/messaging"
	"github.com/lumora/affinity/pkg/errkind"
)

// BrokerHandler is the RabbitMQ control surface: health, queue depths, purge.
// Every route answers 503 with a hint when the deployment runs without a
// broker.
type BrokerHandler struct {
	logger *logrus.Logger
	broker *messaging.Broker
}

func NewBrokerHandler(logger *logrus.Logger, broker *messaging.Broker) *BrokerHandler {
	return &BrokerHandler{logger: logger, broker: broker}
}

func (h *BrokerHandler) Health(c *gin.Context) {
	if !h.available(c) {
		return
	}

	health := h.broker.Health()
	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (h *BrokerHandler) QueueInfo(c *gin.Context) {
	if !h.available(c) {
		return
	}

	name := c.Param("name")
	if !messaging.ValidQueue(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_QUEUE",
				"message": fmt.Sprintf("unknown queue %q", name),
			},
		})
		return
	}

	info, err := h.broker.GetQueueInfo(name)
	if err != nil {
		h.logger.WithError(err).WithField("queue", name).Error("Failed to inspect queue")
		c.JSON(errkind.HTTPStatus(err), gin.H{
			"error": gin.H{
				"code":    "QUEUE_INSPECT_FAILED",
				"message": "Failed to inspect queue",
			},
		})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *BrokerHandler) Purge(c *gin.Context) {
	if !h.available(c) {
		return
	}

	name := c.Param("name")
	if !messaging.ValidQueue(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_QUEUE",
				"message": fmt.Sprintf("unknown queue %q", name),
			},
		})
		return
	}

	count, err := h.broker.Purge(name)
	if err != nil {
		h.logger.WithError(err).WithField("queue", name).Error("Failed to purge queue")
		c.JSON(errkind.HTTPStatus(err), gin.H{
			"error": gin.H{
				"code":    "PURGE_FAILED",
				"message": "Failed to purge queue",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": fmt.Sprintf("Purged %d messages from %s", count, name),
	})
}

func (h *BrokerHandler) available(c *gin.Context) bool {
	if h.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "BROKER_DISABLED",
				"message": "Broker is not configured; events are written directly to the graph",
			},
		})
		return false
	}
	return true
}
