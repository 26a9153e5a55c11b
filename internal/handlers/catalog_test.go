package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/vector"
)

func newCatalogRouter(t *testing.T, backend http.HandlerFunc) (*gin.Engine, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := httptest.NewServer(backend)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client := vector.NewClient(config.VectorConfig{
		Host:       u.Hostname(),
		Port:       port,
		Collection: "products",
		Dimension:  64,
	}, quietLogger())

	handler := NewCatalogHandler(quietLogger(), client, vector.NewFeatureHasher(64))

	router := gin.New()
	router.POST("/catalog/products", handler.Create)
	router.POST("/catalog/products/batch", handler.CreateBatch)
	router.GET("/catalog/products/:productID", handler.Get)
	return router, server
}

func TestCatalogCreateEmbedsAndUpserts(t *testing.T) {
	var captured map[string]any
	router, server := newCatalogRouter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/products/points", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})
	defer server.Close()

	w := postJSON(t, router, "/catalog/products",
		`{"product_id": 42, "title": "espresso machine", "brand": "Lumora", "category": "kitchen", "price": 129.9}`)

	require.Equal(t, http.StatusCreated, w.Code)

	points, ok := captured["points"].([]any)
	require.True(t, ok)
	require.Len(t, points, 1)

	point := points[0].(map[string]any)
	assert.Equal(t, float64(42), point["id"])

	vec := point["vector"].([]any)
	assert.Len(t, vec, 64, "embedded vector uses the configured dimension")

	payload := point["payload"].(map[string]any)
	assert.Equal(t, "espresso machine", payload["title"])
	assert.Equal(t, "Lumora", payload["brand"])
	assert.Equal(t, "kitchen", payload["category"])
	assert.Equal(t, 129.9, payload["price"])
}

func TestCatalogCreateValidation(t *testing.T) {
	router, server := newCatalogRouter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for invalid requests")
	})
	defer server.Close()

	tests := []struct {
		name string
		body string
	}{
		{"missing product_id", `{"title": "espresso machine"}`},
		{"missing title", `{"product_id": 42}`},
		{"negative price", `{"product_id": 42, "title": "x", "price": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, router, "/catalog/products", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCatalogCreateRejectsWrongDimension(t *testing.T) {
	router, server := newCatalogRouter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for invalid requests")
	})
	defer server.Close()

	w := postJSON(t, router, "/catalog/products",
		`{"product_id": 42, "title": "x", "vector": [0.1, 0.2]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_VECTOR")
}

func TestCatalogGetNotFound(t *testing.T) {
	router, server := newCatalogRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result": []}`))
	})
	defer server.Close()

	w := getPath(t, router, "/catalog/products/42")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PRODUCT_NOT_FOUND")
}

func TestCatalogGetReturnsPayload(t *testing.T) {
	router, server := newCatalogRouter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/products/points", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result": [{"id": 42, "payload": {"title": "espresso machine"}}]}`))
	})
	defer server.Close()

	w := getPath(t, router, "/catalog/products/42")

	require.Equal(t, http.StatusOK, w.Code)

	var point vector.Point
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &point))
	assert.Equal(t, int64(42), point.ID)
	assert.Equal(t, "espresso machine", point.Payload["title"])
}
