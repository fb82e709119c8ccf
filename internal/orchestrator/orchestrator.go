// Package orchestrator runs the hybrid retrieval pipeline and routes
// queries between the deterministic relational path and retrieval-
// augmented generation.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/config"
	"github.com/coursequery/coursequery/internal/lexical"
	"github.com/coursequery/coursequery/internal/metrics"
	"github.com/coursequery/coursequery/internal/mmr"
	"github.com/coursequery/coursequery/internal/prompt"
	"github.com/coursequery/coursequery/internal/relstore"
	"github.com/coursequery/coursequery/internal/rerank"
	"github.com/coursequery/coursequery/internal/retry"
	"github.com/coursequery/coursequery/internal/tracing"
)

const (
	embedCacheSize = 1000
	retrCacheSize  = 500
)

// Embedder encodes query text into unit-norm vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DenseIndex is the vector store surface the pipeline needs.
type DenseIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]chunk.Candidate, error)
	GetPointsByChunkIDs(ctx context.Context, chunkIDs []string, withVector bool) ([]chunk.Candidate, error)
}

// LexicalSearcher is the BM25 surface; a missing index returns no hits.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]lexical.Hit, error)
}

// ChunkFetcher loads full chunk rows by id.
type ChunkFetcher interface {
	FetchChunks(ctx context.Context, chunkIDs []string) (map[string]chunk.Chunk, error)
}

// FactStore answers the closed set of deterministic relational queries.
type FactStore interface {
	ListCourses(ctx context.Context) ([]relstore.CodeTitle, error)
	ListTopics(ctx context.Context) ([]relstore.CodeTitle, error)
	LearnedAtRange(ctx context.Context, topicCode string) (relstore.DateRange, error)
	CountClassesForTopic(ctx context.Context, topicCode string) (int, error)
}

// ContextReranker orders candidate chunks by relevance to the query.
type ContextReranker interface {
	Rerank(ctx context.Context, query string, queryVec []float32, items []rerank.Item) []rerank.Item
}

// Generator produces the final answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Embedder  Embedder
	Dense     DenseIndex
	Lexical   LexicalSearcher
	Chunks    ChunkFetcher
	Facts     FactStore
	Reranker  ContextReranker
	Assembler *prompt.Assembler
	Generator Generator
	Logger    *zap.Logger
}

// ChainEntry is one ranked candidate in the diagnostic retrieval chain.
type ChainEntry struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Retrieval is the cached outcome of the semantic pipeline.
type Retrieval struct {
	Context []chunk.Chunk
	Vectors map[string][]float32
	Chain   []ChainEntry
	Top1    float64
}

// Orchestrator owns the process-local caches and the pipeline.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	embedCache *lru.Cache[string, []float32]
	retrCache  *lru.Cache[string, *Retrieval]
}

// New creates an orchestrator.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	embedCache, err := lru.New[string, []float32](embedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embed cache: %w", err)
	}
	retrCache, err := lru.New[string, *Retrieval](retrCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}
	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		embedCache: embedCache,
		retrCache:  retrCache,
	}, nil
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (o *Orchestrator) embed(ctx context.Context, query string) ([]float32, error) {
	key := cacheKey(query)
	if vec, ok := o.embedCache.Get(key); ok {
		metrics.EmbedCacheHits.Inc()
		return vec, nil
	}
	metrics.EmbedCacheMisses.Inc()

	start := time.Now()
	vecs, err := o.deps.Embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	metrics.RecordStage("embed", time.Since(start).Seconds())
	o.embedCache.Add(key, vecs[0])
	return vecs[0], nil
}

// mergeAndDedupe unions dense and lexical results keyed by chunk id,
// preserving insertion order, then hydrates vectors and payloads that
// lexical-only shells are missing.
func (o *Orchestrator) mergeAndDedupe(ctx context.Context, dense []chunk.Candidate, lexHits []lexical.Hit) ([]chunk.Candidate, error) {
	order := make([]string, 0, len(dense)+len(lexHits))
	byID := make(map[string]*chunk.Candidate, len(dense)+len(lexHits))

	for i := range dense {
		c := dense[i]
		key := c.ChunkID()
		if _, ok := byID[key]; !ok {
			byID[key] = &c
			order = append(order, key)
		}
	}
	for _, h := range lexHits {
		if _, ok := byID[h.ChunkID]; !ok {
			byID[h.ChunkID] = &chunk.Candidate{ID: h.ChunkID, Score: 0}
			order = append(order, h.ChunkID)
		}
	}

	var missing []string
	for _, key := range order {
		if byID[key].Vector == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		fetched, err := o.deps.Dense.GetPointsByChunkIDs(ctx, missing, true)
		if err != nil {
			return nil, fmt.Errorf("hydrate candidates: %w", err)
		}
		hydrated := make(map[string]chunk.Candidate, len(fetched))
		for _, f := range fetched {
			hydrated[f.ChunkID()] = f
		}
		for _, key := range order {
			c := byID[key]
			if c.Vector == nil {
				if f, ok := hydrated[key]; ok {
					c.Vector = f.Vector
					if c.Payload == nil {
						c.Payload = f.Payload
					}
				}
			}
		}
	}

	out := make([]chunk.Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, *byID[key])
	}
	return out, nil
}

// Retrieve runs the semantic pipeline and returns the reranked context.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) (*Retrieval, error) {
	key := cacheKey(query)
	if cached, ok := o.retrCache.Get(key); ok {
		metrics.RetrievalCacheHits.Inc()
		return cached, nil
	}
	metrics.RetrievalCacheMisses.Inc()

	ctx, span := tracing.StartStage(ctx, "retrieve")
	defer span.End()

	qvec, err := o.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var dense []chunk.Candidate
	err = retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func() error {
		var searchErr error
		dense, searchErr = o.deps.Dense.Search(ctx, qvec, o.cfg.TopKDense)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	metrics.RecordStage("dense", time.Since(start).Seconds())

	top1 := 0.0
	if len(dense) > 0 {
		top1 = dense[0].Score
	}

	lexHits, err := o.deps.Lexical.Search(ctx, query, o.cfg.TopKLex)
	if err != nil {
		// degraded but valid state
		o.deps.Logger.Warn("Lexical search failed, continuing dense-only", zap.Error(err))
		lexHits = nil
	}

	start = time.Now()
	merged, err := o.mergeAndDedupe(ctx, dense, lexHits)
	if err != nil {
		return nil, err
	}
	metrics.RecordStage("merge", time.Since(start).Seconds())

	start = time.Now()
	selected := mmr.Rerank(merged, qvec, o.cfg.MMRFinalSize, o.cfg.MMRLambda)
	metrics.RecordStage("mmr", time.Since(start).Seconds())

	ids := make([]string, 0, len(selected))
	vectors := make(map[string][]float32, len(selected))
	for _, c := range selected {
		id := c.ChunkID()
		ids = append(ids, id)
		vectors[id] = c.Vector
	}

	start = time.Now()
	var rows map[string]chunk.Chunk
	err = retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func() error {
		var fetchErr error
		rows, fetchErr = o.deps.Chunks.FetchChunks(ctx, ids)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch chunk rows: %w", err)
	}
	metrics.RecordStage("db_fetch", time.Since(start).Seconds())

	items := make([]rerank.Item, 0, len(ids))
	for _, id := range ids {
		row, ok := rows[id]
		if !ok {
			continue
		}
		items = append(items, rerank.Item{Chunk: row, Vector: vectors[id]})
		if len(items) >= o.cfg.RerankTopN {
			break
		}
	}

	start = time.Now()
	ranked := o.deps.Reranker.Rerank(ctx, query, qvec, items)
	metrics.RecordStage("rerank", time.Since(start).Seconds())

	if len(ranked) > o.cfg.RerankFinalN {
		ranked = ranked[:o.cfg.RerankFinalN]
	}
	chain := make([]ChainEntry, 0, len(ranked))
	for _, it := range ranked {
		chain = append(chain, ChainEntry{ID: it.Chunk.ChunkID, Score: it.Score})
	}

	contextChunks := make([]chunk.Chunk, 0, o.cfg.ContextK)
	for _, it := range ranked {
		if len(contextChunks) >= o.cfg.ContextK {
			break
		}
		contextChunks = append(contextChunks, it.Chunk)
	}

	res := &Retrieval{Context: contextChunks, Vectors: vectors, Chain: chain, Top1: top1}
	o.retrCache.Add(key, res)
	return res, nil
}
