// Package lexical maintains the BM25 keyword index that complements
// dense retrieval. The index lives on disk and is rebuilt wholesale by
// ingestion; queries against a missing index return no hits rather than
// an error so the pipeline degrades to dense-only retrieval.
package lexical

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/metrics"
)

// Hit is a lexical match.
type Hit struct {
	ChunkID string
	Score   float64
}

// Index wraps a bleve index over chunk titles and bodies.
type Index struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	idx bleve.Index
}

type indexedChunk struct {
	ChunkID   string `json:"chunk_id"`
	ChunkType string `json:"chunk_type"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

func buildMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Store = false

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("chunk_id", keywordField)
	doc.AddFieldMappingsAt("chunk_type", keywordField)
	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("text", textField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Open opens the index at path if it exists. A missing index is not an
// error; searches simply return no hits until a rebuild happens.
func Open(path string, logger *zap.Logger) (*Index, error) {
	li := &Index{path: path, logger: logger}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("Lexical index not found, keyword retrieval disabled until rebuild",
			zap.String("path", path))
		return li, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	li.idx = idx
	return li, nil
}

// Rebuild replaces the index contents with the given chunks. The new
// index is built beside the old one and swapped in atomically.
func (li *Index) Rebuild(chunks []chunk.Chunk) error {
	tmpPath := li.path + ".rebuild"
	if err := os.RemoveAll(tmpPath); err != nil {
		return fmt.Errorf("clear rebuild dir: %w", err)
	}
	idx, err := bleve.New(tmpPath, buildMapping())
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}

	batch := idx.NewBatch()
	for _, c := range chunks {
		doc := indexedChunk{
			ChunkID:   c.ChunkID,
			ChunkType: c.ChunkType,
			Title:     c.Title,
			Text:      c.Text,
		}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			idx.Close()
			return fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
		if batch.Size() >= 500 {
			if err := idx.Batch(batch); err != nil {
				idx.Close()
				return fmt.Errorf("write batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			idx.Close()
			return fmt.Errorf("write batch: %w", err)
		}
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("close rebuilt index: %w", err)
	}

	li.mu.Lock()
	defer li.mu.Unlock()
	if li.idx != nil {
		li.idx.Close()
		li.idx = nil
	}
	if err := os.RemoveAll(li.path); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	if err := os.Rename(tmpPath, li.path); err != nil {
		return fmt.Errorf("swap index: %w", err)
	}
	opened, err := bleve.Open(li.path)
	if err != nil {
		return fmt.Errorf("reopen lexical index: %w", err)
	}
	li.idx = opened
	li.logger.Info("Lexical index rebuilt",
		zap.String("path", li.path),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Search returns up to limit BM25 matches for the query text.
func (li *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	li.mu.RLock()
	idx := li.idx
	li.mu.RUnlock()
	if idx == nil {
		return nil, nil
	}

	start := time.Now()
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		metrics.LexicalSearches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	metrics.LexicalSearches.WithLabelValues("success").Inc()
	metrics.RecordStage("lexical", time.Since(start).Seconds())

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ChunkID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// DocCount returns the number of indexed chunks, zero when no index is
// loaded.
func (li *Index) DocCount() uint64 {
	li.mu.RLock()
	defer li.mu.RUnlock()
	if li.idx == nil {
		return 0
	}
	n, err := li.idx.DocCount()
	if err != nil {
		return 0
	}
	return n
}

// Close releases the underlying index.
func (li *Index) Close() error {
	li.mu.Lock()
	defer li.mu.Unlock()
	if li.idx == nil {
		return nil
	}
	err := li.idx.Close()
	li.idx = nil
	return err
}
