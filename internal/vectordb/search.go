package vectordb

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/metrics"
)

// Search runs a dense nearest-neighbor search and returns candidates in
// score order with payload and vector populated. Newer Qdrant versions
// expose points/query; older ones only points/search, so a 404 falls
// back to the legacy endpoint.
func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]chunk.Candidate, error) {
	start := time.Now()
	cands, err := c.queryPoints(ctx, vector, limit)
	if err != nil {
		metrics.RecordVectorSearch("search", "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearch("search", "success", time.Since(start).Seconds())
	return cands, nil
}

func (c *Client) queryPoints(ctx context.Context, vector []float32, limit int) ([]chunk.Candidate, error) {
	payload := map[string]interface{}{
		"query":        vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
		"params": map[string]interface{}{
			"hnsw_ef": c.cfg.EF,
		},
	}
	var resp struct {
		Result struct {
			Points []rawPoint `json:"points"`
		} `json:"result"`
	}
	status, err := c.post(ctx, fmt.Sprintf("/collections/%s/points/query", c.cfg.Collection), payload, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			c.logger.Debug("points/query unavailable, falling back to points/search")
			return c.legacySearch(ctx, vector, limit)
		}
		return nil, err
	}
	out := make([]chunk.Candidate, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, p.toCandidate())
	}
	return out, nil
}

func (c *Client) legacySearch(ctx context.Context, vector []float32, limit int) ([]chunk.Candidate, error) {
	payload := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
		"params": map[string]interface{}{
			"hnsw_ef": c.cfg.EF,
		},
	}
	var resp struct {
		Result []rawPoint `json:"result"`
	}
	if _, err := c.post(ctx, fmt.Sprintf("/collections/%s/points/search", c.cfg.Collection), payload, &resp); err != nil {
		return nil, err
	}
	out := make([]chunk.Candidate, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, p.toCandidate())
	}
	return out, nil
}

// GetPointsByChunkIDs scrolls for points whose chunk_id payload field
// matches any of the given ids. Used to hydrate vectors for lexical-only
// candidates and for slow-path payload lookups.
func (c *Client) GetPointsByChunkIDs(ctx context.Context, chunkIDs []string, withVector bool) ([]chunk.Candidate, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	start := time.Now()

	should := make([]map[string]interface{}, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		should = append(should, map[string]interface{}{
			"key":   "chunk_id",
			"match": map[string]interface{}{"value": id},
		})
	}
	payload := map[string]interface{}{
		"filter":       map[string]interface{}{"should": should},
		"limit":        len(chunkIDs),
		"with_payload": true,
		"with_vector":  withVector,
	}
	var resp struct {
		Result struct {
			Points []rawPoint `json:"points"`
		} `json:"result"`
	}
	_, err := c.post(ctx, fmt.Sprintf("/collections/%s/points/scroll", c.cfg.Collection), payload, &resp)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorSearch("scroll", status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out := make([]chunk.Candidate, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, p.toCandidate())
	}
	if len(out) < len(chunkIDs) {
		c.logger.Debug("Scroll returned fewer points than requested",
			zap.Int("requested", len(chunkIDs)),
			zap.Int("returned", len(out)),
		)
	}
	return out, nil
}

// Healthy reports whether the Qdrant instance answers its readiness probe.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/readyz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
