// Package vector is the product-embedding store adapter. It talks to Qdrant
// over its HTTP API and layers maximal-marginal-relevance reranking on top of
// plain nearest-neighbour search.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/pkg/errkind"
)

const defaultTimeout = 5 * time.Second

type Client struct {
	http       *http.Client
	base       string
	apiKey     string
	collection string
	dimension  int
	logger     *logrus.Logger
}

func NewClient(cfg config.VectorConfig, logger *logrus.Logger) *Client {
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	return &Client{
		http:       &http.Client{Timeout: defaultTimeout},
		base:       fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		logger:     logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.collection }

// Point is one stored embedding with its metadata. Vector is populated only
// when the request asked for vectors.
type Point struct {
	ID      int64          `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float64      `json:"vector,omitempty"`
}

// SearchOptions controls one nearest-neighbour query. With UseMMR the client
// over-fetches MMRCandidates points (default 10x limit) with vectors and
// reranks them locally before truncating to Limit.
type SearchOptions struct {
	Limit          int
	ScoreThreshold float64
	Filter         map[string]any
	WithVectors    bool
	// HNSWEf widens the HNSW search beam when > 0. Higher is more accurate
	// and slower; zero leaves the collection default in place.
	HNSWEf        int
	UseMMR        bool
	MMRDiversity  float64
	MMRCandidates int
}

// MatchFilter builds a Qdrant filter that requires every key to equal its
// value.
func MatchFilter(conditions map[string]any) map[string]any {
	if len(conditions) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(conditions))
	for key, value := range conditions {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

type queryRequest struct {
	Query          []float64      `json:"query"`
	Limit          int            `json:"limit"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	WithPayload    bool           `json:"with_payload"`
	WithVector     bool           `json:"with_vector,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
	Params         *searchParams  `json:"params,omitempty"`
}

type searchParams struct {
	HNSWEf int `json:"hnsw_ef"`
}

type rawPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float64      `json:"vector,omitempty"`
}

type searchResponse struct {
	Result []rawPoint `json:"result"`
	Status any        `json:"status"`
}

// queryResponse is the nested shape of the modern /points/query endpoint.
type queryResponse struct {
	Result struct {
		Points []rawPoint `json:"points"`
	} `json:"result"`
	Status any `json:"status"`
}

// Search runs a nearest-neighbour query for vec, optionally MMR-reranked.
// A non-positive limit returns no results without touching the store.
func (c *Client) Search(ctx context.Context, vec []float64, opts SearchOptions) ([]Point, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}

	fetchLimit := opts.Limit
	withVectors := opts.WithVectors
	if opts.UseMMR {
		fetchLimit = opts.MMRCandidates
		if fetchLimit <= 0 {
			fetchLimit = opts.Limit * 10
		}
		withVectors = true
	}

	points, err := c.query(ctx, vec, fetchLimit, opts.ScoreThreshold, withVectors, opts.Filter, opts.HNSWEf)
	if err != nil {
		return nil, err
	}

	if opts.UseMMR {
		points = Rerank(vec, points, opts.MMRDiversity, opts.Limit)
	}
	if !opts.WithVectors {
		for i := range points {
			points[i].Vector = nil
		}
	}
	return points, nil
}

func (c *Client) query(ctx context.Context, vec []float64, limit int, threshold float64, withVectors bool, filter map[string]any, hnswEf int) ([]Point, error) {
	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	var params *searchParams
	if hnswEf > 0 {
		params = &searchParams{HNSWEf: hnswEf}
	}
	body := queryRequest{
		Query:          vec,
		Limit:          limit,
		ScoreThreshold: thr,
		WithPayload:    true,
		WithVector:     withVectors,
		Filter:         filter,
		Params:         params,
	}

	// Prefer the modern /points/query endpoint; older servers only speak
	// /points/search.
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/query", c.collection), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var qr queryResponse
		if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			return nil, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to decode query response: %w", err))
		}
		return convertPoints(qr.Result.Points), nil
	}
	resp.Body.Close()

	legacy := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  withVectors,
	}
	if threshold > 0 {
		legacy["score_threshold"] = threshold
	}
	if filter != nil {
		legacy["filter"] = filter
	}
	if hnswEf > 0 {
		legacy["params"] = map[string]any{"hnsw_ef": hnswEf}
	}

	resp2, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", c.collection), legacy)
	if err != nil {
		return nil, err
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK {
		return nil, errkind.Errorf(errkind.BackendFailure, "vector search returned status %d", resp2.StatusCode)
	}
	var sr searchResponse
	if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
		return nil, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to decode search response: %w", err))
	}
	return convertPoints(sr.Result), nil
}

// Retrieve fetches points by id. Missing ids are silently absent from the
// result.
func (c *Client) Retrieve(ctx context.Context, ids []int64, withVectors bool) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  withVectors,
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points", c.collection), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Errorf(errkind.BackendFailure, "vector retrieve returned status %d", resp.StatusCode)
	}
	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to decode retrieve response: %w", err))
	}
	return convertPoints(sr.Result), nil
}

// UpsertItem is one point to insert or replace.
type UpsertItem struct {
	ID      int64          `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert inserts or replaces points in the collection.
func (c *Client) Upsert(ctx context.Context, points []UpsertItem) error {
	if len(points) == 0 {
		return nil
	}

	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", c.collection), map[string]any{
		"points": points,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errkind.Errorf(errkind.BackendFailure, "vector upsert returned status %d", resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"collection": c.collection,
		"count":      len(points),
	}).Debug("Upserted vector points")
	return nil
}

// Delete removes points by id.
func (c *Client) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection), map[string]any{
		"points": ids,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errkind.Errorf(errkind.BackendFailure, "vector delete returned status %d", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance and payload
// indexes for the common product filter fields. Creating an existing
// collection is a no-op.
func (c *Client) EnsureCollection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", c.collection), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": "Cosine",
			"hnsw_config": map[string]any{
				"m":                   16,
				"ef_construct":        100,
				"full_scan_threshold": 10000,
			},
		},
	}
	resp2, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", c.collection), create)
	if err != nil {
		return err
	}
	resp2.Body.Close()
	if resp2.StatusCode < 200 || resp2.StatusCode >= 300 {
		return errkind.Errorf(errkind.BackendFailure, "collection create returned status %d", resp2.StatusCode)
	}

	indexes := []struct {
		field  string
		schema string
	}{
		{"category", "keyword"},
		{"brand", "keyword"},
		{"price", "float"},
	}
	for _, idx := range indexes {
		resp3, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", c.collection), map[string]any{
			"field_name":   idx.field,
			"field_schema": idx.schema,
		})
		if err != nil {
			return err
		}
		resp3.Body.Close()
		if resp3.StatusCode < 200 || resp3.StatusCode >= 300 {
			return errkind.Errorf(errkind.BackendFailure, "payload index create for %q returned status %d", idx.field, resp3.StatusCode)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"collection": c.collection,
		"dimension":  c.dimension,
	}).Info("Created vector collection")
	return nil
}

// CollectionInfo reports point count and status for the collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount int64  `json:"points_count"`
	Status      string `json:"status"`
}

func (c *Client) GetCollectionInfo(ctx context.Context) (CollectionInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", c.collection), nil)
	if err != nil {
		return CollectionInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return CollectionInfo{}, errkind.Errorf(errkind.NotFound, "collection %q not found", c.collection)
	}
	if resp.StatusCode != http.StatusOK {
		return CollectionInfo{}, errkind.Errorf(errkind.BackendFailure, "collection info returned status %d", resp.StatusCode)
	}

	var body struct {
		Result struct {
			PointsCount int64  `json:"points_count"`
			Status      string `json:"status"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CollectionInfo{}, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to decode collection info: %w", err))
	}
	return CollectionInfo{
		Name:        c.collection,
		PointsCount: body.Result.PointsCount,
		Status:      body.Result.Status,
	}, nil
}

// Healthy checks the store's liveness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errkind.Errorf(errkind.BackendUnavailable, "vector store health returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("vector store request failed: %w", err))
	}
	return resp, nil
}

func convertPoints(raw []rawPoint) []Point {
	points := make([]Point, 0, len(raw))
	for _, rp := range raw {
		points = append(points, Point{
			ID:      coerceID(rp.ID),
			Score:   rp.Score,
			Payload: rp.Payload,
			Vector:  rp.Vector,
		})
	}
	return points
}

// coerceID maps Qdrant's numeric-or-string point ids onto int64 product ids.
func coerceID(id any) int64 {
	switch v := id.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
