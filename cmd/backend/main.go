package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursequery/coursequery/internal/config"
	"github.com/coursequery/coursequery/internal/embeddings"
	"github.com/coursequery/coursequery/internal/lexical"
	"github.com/coursequery/coursequery/internal/llm"
	"github.com/coursequery/coursequery/internal/orchestrator"
	"github.com/coursequery/coursequery/internal/prompt"
	"github.com/coursequery/coursequery/internal/relstore"
	"github.com/coursequery/coursequery/internal/rerank"
	"github.com/coursequery/coursequery/internal/server"
	"github.com/coursequery/coursequery/internal/tracing"
	"github.com/coursequery/coursequery/internal/vectordb"
)

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracing.Initialize(ctx, "coursequery-backend", cfg.OTLPEndpoint, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	store, err := relstore.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	qdrant := vectordb.NewClient(vectordb.Config{
		BaseURL:    cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		EF:         cfg.QdrantEF,
	}, logger)

	lexIndex, err := lexical.Open(cfg.LexicalIndexPath, logger)
	if err != nil {
		logger.Fatal("Failed to open lexical index", zap.Error(err))
	}
	defer lexIndex.Close()

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.EmbedURL,
		Model:     cfg.EmbedModel,
		Dim:       cfg.EmbedDim,
		BatchSize: cfg.EmbedBatchSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.Error(err))
	}

	generator, err := llm.New(llm.Config{
		Provider:    cfg.LLMProvider,
		URL:         cfg.LLMURL,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		APIKey:      cfg.LLMAPIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create generative provider", zap.Error(err))
	}

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Embedder:  embedder,
		Dense:     qdrant,
		Lexical:   lexIndex,
		Chunks:    store,
		Facts:     store,
		Reranker:  rerank.New(cfg.RerankURL, logger),
		Assembler: prompt.NewAssembler(nil, cfg.PromptMaxTokens, cfg.PromptReservedAnswer, cfg.PromptOverhead),
		Generator: generator,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.BackendPort),
		Handler:      server.New(orch, store, qdrant, logger).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	go func() {
		logger.Info("Backend listening",
			zap.Int("port", cfg.BackendPort),
			zap.String("provider", generator.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down backend")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
