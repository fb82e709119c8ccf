// Package rerank orders retrieval candidates by cross-encoder relevance.
// Scoring runs on an external inference service; when none is configured
// the reranker degrades to bi-encoder cosine against the query vector.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/mmr"
	"github.com/coursequery/coursequery/internal/tracing"
)

// Item pairs a chunk with its dense vector for fallback scoring.
type Item struct {
	Chunk  chunk.Chunk
	Vector []float32
	Score  float64
}

// Reranker scores (query, chunk) pairs.
type Reranker struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// New creates a reranker. An empty baseURL selects cosine fallback.
func New(baseURL string, logger *zap.Logger) *Reranker {
	r := &Reranker{baseURL: baseURL, logger: logger}
	if baseURL != "" {
		r.http = circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 30 * time.Second}, "reranker", logger)
	}
	return r
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores items against the query and returns them sorted by score
// descending. The sort is stable so equal scores keep input order. A
// scoring service failure falls back to cosine rather than failing the
// whole query.
func (r *Reranker) Rerank(ctx context.Context, query string, queryVec []float32, items []Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)

	scores, err := r.score(ctx, query, out)
	if err != nil {
		r.logger.Warn("Rerank service failed, falling back to cosine", zap.Error(err))
		scores = nil
	}
	for i := range out {
		if scores != nil {
			out[i].Score = scores[i]
		} else {
			out[i].Score = mmr.Cosine(queryVec, out[i].Vector)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (r *Reranker) score(ctx context.Context, query string, items []Item) ([]float64, error) {
	if r.http == nil {
		return nil, nil
	}
	docs := make([]string, len(items))
	for i, it := range items {
		docs[i] = it.Chunk.Title + "\n" + it.Chunk.Text
	}
	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, raw)
	}
	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(items) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d documents", len(parsed.Scores), len(items))
	}
	return parsed.Scores, nil
}

// HasCrossEncoder reports whether a scoring service is configured; cosine
// fallback results are treated as lower-confidence by callers.
func (r *Reranker) HasCrossEncoder() bool { return r.http != nil }
