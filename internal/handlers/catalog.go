package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/vector"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

// CatalogHandler indexes products into the vector store. Products arrive with
// either a precomputed vector or text fields the embedder hashes; the payload
// stored alongside is what recommendation enrichment later returns.
type CatalogHandler struct {
	logger    *logrus.Logger
	vector    *vector.Client
	embedder  vector.TextEmbedder
	validator *validator.Validate
}

func NewCatalogHandler(logger *logrus.Logger, client *vector.Client, embedder vector.TextEmbedder) *CatalogHandler {
	return &CatalogHandler{
		logger:    logger,
		vector:    client,
		embedder:  embedder,
		validator: validator.New(),
	}
}

func (h *CatalogHandler) Create(c *gin.Context) {
	var req models.ProductCreate
	if !h.bind(c, &req) {
		return
	}

	point, ok := h.buildPoint(c, req)
	if !ok {
		return
	}

	if err := h.vector.Upsert(c.Request.Context(), []vector.UpsertItem{point}); err != nil {
		h.logger.WithError(err).WithField("product_id", req.ProductID).Error("Failed to upsert product")
		c.JSON(errkind.HTTPStatus(err), gin.H{
			"error": gin.H{
				"code":    "UPSERT_FAILED",
				"message": "Failed to index product",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Product indexed",
		"product_id": req.ProductID,
	})
}

func (h *CatalogHandler) CreateBatch(c *gin.Context) {
	var req models.ProductBatchCreate
	if !h.bind(c, &req) {
		return
	}

	points := make([]vector.UpsertItem, 0, len(req.Products))
	for _, product := range req.Products {
		point, ok := h.buildPoint(c, product)
		if !ok {
			return
		}
		points = append(points, point)
	}

	if err := h.vector.Upsert(c.Request.Context(), points); err != nil {
		h.logger.WithError(err).WithField("count", len(points)).Error("Failed to upsert product batch")
		c.JSON(errkind.HTTPStatus(err), gin.H{
			"error": gin.H{
				"code":    "UPSERT_FAILED",
				"message": "Failed to index products",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Products indexed",
		"count":   len(points),
	})
}

func (h *CatalogHandler) Get(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}
	withVectors, _ := strconv.ParseBool(c.DefaultQuery("with_vector", "false"))

	points, err := h.vector.Retrieve(c.Request.Context(), []int64{productID}, withVectors)
	if err != nil {
		h.logger.WithError(err).WithField("product_id", productID).Error("Failed to retrieve product")
		c.JSON(errkind.HTTPStatus(err), gin.H{
			"error": gin.H{
				"code":    "RETRIEVE_FAILED",
				"message": "Failed to retrieve product",
			},
		})
		return
	}
	if len(points) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "PRODUCT_NOT_FOUND",
				"message": "Product is not indexed",
			},
		})
		return
	}

	c.JSON(http.StatusOK, points[0])
}

// buildPoint resolves the embedding and merges the descriptive fields into
// the stored payload.
func (h *CatalogHandler) buildPoint(c *gin.Context, req models.ProductCreate) (vector.UpsertItem, bool) {
	vec := req.Vector
	if len(vec) == 0 {
		text := strings.TrimSpace(strings.Join([]string{req.Title, req.Brand, req.Category}, " "))
		vec = h.embedder.EmbedText(text)
	} else if len(vec) != h.embedder.Dimension() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_VECTOR",
				"message": "vector dimension does not match the collection",
			},
		})
		return vector.UpsertItem{}, false
	}

	payload := make(map[string]interface{}, len(req.Payload)+4)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload["title"] = req.Title
	if req.Brand != "" {
		payload["brand"] = req.Brand
	}
	if req.Category != "" {
		payload["category"] = req.Category
	}
	if req.Price > 0 {
		payload["price"] = req.Price
	}

	return vector.UpsertItem{
		ID:      req.ProductID,
		Vector:  vec,
		Payload: payload,
	}, true
}

func (h *CatalogHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.WithError(err).Error("Failed to bind catalog request")
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
		h.logger.WithError(err).Error("Validation failed for catalog request")
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
