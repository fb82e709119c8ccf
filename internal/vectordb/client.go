// Package vectordb implements a Qdrant HTTP client covering the calls
// the retrieval pipeline and ingestion need: dense search, point fetch,
// payload filtering, upsert and collection bootstrap.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/metrics"
	"github.com/coursequery/coursequery/internal/tracing"
)

// Config holds Qdrant connection settings.
type Config struct {
	BaseURL    string
	Collection string
	EF         int // HNSW ef search parameter
	Timeout    time.Duration
}

// Client is a Qdrant HTTP API client.
type Client struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewClient creates a Qdrant client for the configured collection.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.EF <= 0 {
		cfg.EF = 200
	}
	return &Client{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "qdrant", logger),
		logger: logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("qdrant %s returned %d: %s", path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) put(ctx context.Context, path string, payload interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("qdrant %s returned %d: %s", path, resp.StatusCode, raw)
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet. Existing collections are left untouched.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/collections/%s", c.cfg.BaseURL, c.cfg.Collection), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	payload := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if _, err := c.put(ctx, fmt.Sprintf("/collections/%s", c.cfg.Collection), payload); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.logger.Info("Created vector collection",
		zap.String("collection", c.cfg.Collection),
		zap.Int("dim", dim),
	)
	return nil
}

// Point is a point to upsert.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// Upsert writes points with wait=true so subsequent reads see them.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	payload := map[string]interface{}{"points": points}
	_, err := c.put(ctx, fmt.Sprintf("/collections/%s/points?wait=true", c.cfg.Collection), payload)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorSearch("upsert", status, time.Since(start).Seconds())
	return err
}

// GetPointsByIDs fetches points by point id with payload and vector.
// Unknown ids are silently absent from the result.
func (c *Client) GetPointsByIDs(ctx context.Context, ids []string) ([]chunk.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	payload := map[string]interface{}{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []rawPoint `json:"result"`
	}
	_, err := c.post(ctx, fmt.Sprintf("/collections/%s/points", c.cfg.Collection), payload, &resp)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorSearch("fetch", status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out := make([]chunk.Candidate, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, p.toCandidate())
	}
	return out, nil
}

// rawPoint is the wire shape shared by fetch, scroll and search results.
// Qdrant point ids may be integers or UUID strings.
type rawPoint struct {
	ID      json.RawMessage        `json:"id"`
	Score   float64                `json:"score"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

func (p rawPoint) idString() string {
	var s string
	if err := json.Unmarshal(p.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(p.ID, &n); err == nil {
		return n.String()
	}
	return string(p.ID)
}

func (p rawPoint) toCandidate() chunk.Candidate {
	return chunk.Candidate{
		ID:      p.idString(),
		Score:   p.Score,
		Vector:  p.Vector,
		Payload: p.Payload,
	}
}
