// Command ingest loads a line-delimited JSON file of chunks, embeds them
// in batches, upserts them into the vector store under deterministic
// point ids and rebuilds the lexical index.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/config"
	"github.com/coursequery/coursequery/internal/embeddings"
	"github.com/coursequery/coursequery/internal/lexical"
	"github.com/coursequery/coursequery/internal/vectordb"
)

func main() {
	var (
		inputPath string
		skipLex   bool
	)

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Embed curriculum chunks and load the vector and lexical indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return run(cmd.Context(), cfg, logger, inputPath, skipLex)
		},
	}
	root.Flags().StringVarP(&inputPath, "input", "i", "chunks.jsonl", "path to the chunks JSONL file")
	root.Flags().BoolVar(&skipLex, "skip-lexical", false, "skip the lexical index rebuild")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func readChunks(path string) ([]chunk.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var chunks []chunk.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c chunk.Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.ChunkID == "" {
			return nil, fmt.Errorf("line %d: missing chunk_id", line)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return chunks, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, inputPath string, skipLex bool) error {
	chunks, err := readChunks(inputPath)
	if err != nil {
		return err
	}
	logger.Info("Loaded chunks", zap.Int("count", len(chunks)), zap.String("input", inputPath))

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.EmbedURL,
		Model:     cfg.EmbedModel,
		Dim:       cfg.EmbedDim,
		BatchSize: cfg.EmbedBatchSize,
	}, logger)
	if err != nil {
		return err
	}

	qdrant := vectordb.NewClient(vectordb.Config{
		BaseURL:    cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		EF:         cfg.QdrantEF,
	}, logger)
	if err := qdrant.EnsureCollection(ctx, cfg.EmbedDim); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Title + "\n" + c.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	points := make([]vectordb.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectordb.Point{
			ID:     chunk.PointIDString(c.ChunkID),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"chunk_id":   c.ChunkID,
				"title":      c.Title,
				"chunk_type": c.ChunkType,
				"metadata":   c.Metadata,
			},
		}
	}
	if err := qdrant.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	logger.Info("Upserted points", zap.Int("count", len(points)))

	if skipLex {
		return nil
	}
	idx, err := lexical.Open(cfg.LexicalIndexPath, logger)
	if err != nil {
		return err
	}
	defer idx.Close()
	if err := idx.Rebuild(chunks); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	logger.Info("Rebuilt lexical index",
		zap.String("path", cfg.LexicalIndexPath),
		zap.Uint64("docs", idx.DocCount()),
	)
	return nil
}
