// Package embeddings provides a client for the embedding inference
// service used for both query-time encoding and offline ingestion.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/metrics"
	"github.com/coursequery/coursequery/internal/retry"
	"github.com/coursequery/coursequery/internal/tracing"
)

const defaultCacheSize = 1000

// Config holds embedding service settings.
type Config struct {
	BaseURL   string
	Model     string
	Dim       int
	BatchSize int
	Timeout   time.Duration
	CacheSize int
}

// Service calls the embedding HTTP endpoint and caches query vectors.
type Service struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	cache  *lru.Cache[string, []float32]
	logger *zap.Logger
}

// NewService creates an embedding client. Dim is the expected vector
// dimensionality; responses with a different width are rejected.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dim)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Service{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "embeddings", logger),
		cache:  cache,
		logger: logger,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the normalized embedding for a single text, consulting
// the cache first.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cache.Get(text); ok {
		metrics.EmbedCacheHits.Inc()
		return vec, nil
	}
	metrics.EmbedCacheMisses.Inc()

	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	s.cache.Add(text, vecs[0])
	return vecs[0], nil
}

// EmbedBatch embeds texts in request batches, preserving input order.
// Every returned vector is L2-normalized.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *Service) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: s.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	start := time.Now()
	var result embedResponse
	err = retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			s.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)

		resp, doErr := s.http.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, raw)
		}
		result = embedResponse{}
		if decErr := json.NewDecoder(resp.Body).Decode(&result); decErr != nil {
			return fmt.Errorf("decode embed response: %w", decErr)
		}
		return nil
	})
	if err != nil {
		metrics.RecordEmbedding(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}

	if len(result.Data) != len(texts) {
		metrics.RecordEmbedding(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(result.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) != s.cfg.Dim {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), s.cfg.Dim)
		}
		vecs[d.Index] = Normalize(d.Embedding)
	}
	metrics.RecordEmbedding(s.cfg.Model, "success", time.Since(start).Seconds())
	return vecs, nil
}

// Normalize scales v to unit L2 norm in place and returns it. The zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
