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
	"github.com/coursequery/coursequery/internal/gateway"
	"github.com/coursequery/coursequery/internal/session"
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

// sessionStore picks the shared Redis store when a Redis address is
// configured, falling back to the in-process TTL map.
func sessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) session.Store {
	if cfg.RedisURL != "" {
		store, err := session.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL(), logger)
		if err != nil {
			logger.Warn("Redis session store unavailable, using in-memory", zap.Error(err))
		} else {
			logger.Info("Using shared Redis session store", zap.String("addr", cfg.RedisURL))
			return store
		}
	}
	return session.NewMemoryStore(cfg.SessionTTL())
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

	if err := tracing.Initialize(ctx, "coursequery-gateway", cfg.OTLPEndpoint, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	qdrant := vectordb.NewClient(vectordb.Config{
		BaseURL:    cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		EF:         cfg.QdrantEF,
	}, logger)

	sessions := sessionStore(ctx, cfg, logger)
	resolver := gateway.NewPayloadResolver(qdrant, cfg.PayloadCacheMax, cfg.PayloadCacheTTL(), logger)
	gw := gateway.New(cfg, sessions, resolver, qdrant, logger)

	// in-memory stores need periodic expiry; Redis handles its own
	if mem, ok := sessions.(*session.MemoryStore); ok {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mem.Sweep()
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	go func() {
		logger.Info("Gateway listening",
			zap.Int("port", cfg.GatewayPort),
			zap.String("backend", cfg.BackendURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
