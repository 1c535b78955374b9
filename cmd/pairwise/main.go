package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/complement"
	"github.com/kailas-cloud/pairwise/internal/config"
	"github.com/kailas-cloud/pairwise/internal/db"
	dbRedis "github.com/kailas-cloud/pairwise/internal/db/redis"
	logpkg "github.com/kailas-cloud/pairwise/internal/logger"
	"github.com/kailas-cloud/pairwise/internal/metrics"
	catalogrepo "github.com/kailas-cloud/pairwise/internal/repository/catalog"
	"github.com/kailas-cloud/pairwise/internal/rerank"
	chiTransport "github.com/kailas-cloud/pairwise/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/pairwise/internal/transport/openai"
	"github.com/kailas-cloud/pairwise/internal/usecase/recommend"
	"github.com/kailas-cloud/pairwise/internal/version"
)

func main() {
	// Local development secrets; missing .env is fine.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting pairwise API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("catalog_path", cfg.Pipeline.CatalogPath),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	embedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:  cfg.Services.Embedding.APIKey,
		BaseURL: cfg.Services.Embedding.BaseURL,
		Model:   cfg.Services.Embedding.Model,
		Timeout: time.Duration(cfg.Services.Embedding.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	chat := openaiTransport.NewChatCompleter(&openaiTransport.Config{
		APIKey:  cfg.Services.Chat.APIKey,
		BaseURL: cfg.Services.Chat.BaseURL,
		Model:   cfg.Services.Chat.Model,
		Timeout: time.Duration(cfg.Services.Chat.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	scorer := openaiTransport.NewPairScorer(&openaiTransport.Config{
		APIKey:  cfg.Services.Rerank.APIKey,
		BaseURL: cfg.Services.Rerank.BaseURL,
		Model:   cfg.Services.Rerank.Model,
		Timeout: time.Duration(cfg.Services.Rerank.TimeoutSec) * time.Second,
		Logger:  logger,
	})

	// Complement cache: LLM generation tier is optional, the static fallback
	// table always applies.
	var generator complement.Generator
	if cfg.Pipeline.UseComplementGenerator {
		generator = complement.NewLLMGenerator(
			chat, time.Duration(cfg.Services.Chat.TimeoutSec)*time.Second, logger)
	}
	cache := complement.Open(ctx, store, generator, complement.Config{
		TTL:      time.Duration(cfg.Pipeline.CacheTTLHours) * time.Hour,
		Fallback: cfg.Pipeline.FallbackComplements,
		HitTotal: metrics.ComplementCacheTotal,
	}, logger)
	defer cache.Close(ctx)

	reranker := rerank.New(scorer, embedder, rerank.Config{
		Timeout:       time.Duration(cfg.Services.Rerank.TimeoutSec) * time.Second,
		StrategyTotal: metrics.RerankStrategyTotal,
	}, logger)

	source := catalogrepo.NewSource(cfg.Pipeline.CatalogPath)

	pipeline, err := recommend.New(source, embedder, chat, cache, reranker, recommend.Config{
		TopKCandidates:     cfg.Pipeline.TopKCandidates,
		TopKReturn:         cfg.Pipeline.TopKReturn,
		UseQueryNormalizer: cfg.Pipeline.UseQueryNormalizer,
		UseComplementCache: cfg.Pipeline.UseComplementCache,
		NormalizeTimeout:   time.Duration(cfg.Pipeline.NormalizeTimeoutSec) * time.Second,
		NormalizedMaxLen:   cfg.Pipeline.NormalizedMaxLen,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create recommendation pipeline", zap.Error(err))
	}

	if cfg.Pipeline.WarmupIndex {
		if err := pipeline.EnsureBuilt(ctx); err != nil {
			// Lazy build retries on the first request.
			logger.Warn("Index warmup failed", zap.Error(err))
		}
	}

	server := chiTransport.NewServer(pipeline, map[string]chiTransport.HealthChecker{
		"database":  storeHealthChecker{store: store},
		"embedding": embedder,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// storeHealthChecker adapts db.Store.Ping to the transport health probe.
type storeHealthChecker struct {
	store db.Store
}

func (h storeHealthChecker) HealthCheck(ctx context.Context) error {
	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
