package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/cache"
	"github.com/kailas-cloud/lexrag/internal/config"
	"github.com/kailas-cloud/lexrag/internal/db"
	dbRedis "github.com/kailas-cloud/lexrag/internal/db/redis"
	"github.com/kailas-cloud/lexrag/internal/domain"
	logpkg "github.com/kailas-cloud/lexrag/internal/logger"
	"github.com/kailas-cloud/lexrag/internal/metrics"
	"github.com/kailas-cloud/lexrag/internal/provider"
	contentrepo "github.com/kailas-cloud/lexrag/internal/repository/content"
	"github.com/kailas-cloud/lexrag/internal/repository/embcache"
	interactionrepo "github.com/kailas-cloud/lexrag/internal/repository/interaction"
	sqliterepo "github.com/kailas-cloud/lexrag/internal/repository/sqlite"
	vectorrepo "github.com/kailas-cloud/lexrag/internal/repository/vector"
	chiTransport "github.com/kailas-cloud/lexrag/internal/transport/chi"
	googleEmb "github.com/kailas-cloud/lexrag/internal/transport/google"
	openaiTransport "github.com/kailas-cloud/lexrag/internal/transport/openai"
	healthuc "github.com/kailas-cloud/lexrag/internal/usecase/health"
	interactionuc "github.com/kailas-cloud/lexrag/internal/usecase/interaction"
	retrievaluc "github.com/kailas-cloud/lexrag/internal/usecase/retrieval"
	"github.com/kailas-cloud/lexrag/internal/version"
)

func main() {
	// Load configuration based on ENV
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

	logger.Info("Starting lexrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("built", version.BuildDate),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("embedding_provider", cfg.Providers.Embedding),
		zap.String("retrieval_provider", cfg.Providers.Retrieval),
		zap.String("content_provider", cfg.Providers.Content),
	)

	// Redis is only dialed when a redis backend is selected.
	var store db.Store
	if cfg.Providers.Retrieval == "redis" || cfg.Providers.Content == "redis" {
		redisStore, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer redisStore.Close()

		ctx := context.Background()
		if err := redisStore.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")
		store = redisStore
	}

	// sqlite always opens: the interaction log lives there, and it doubles
	// as the second retrieval/content backend.
	sqliteDB, err := sqliterepo.Open(cfg.SQLite.Path)
	if err != nil {
		logger.Fatal("Failed to open sqlite", zap.Error(err))
	}
	defer sqliteDB.Close()
	sqliteRepo := sqliterepo.New(sqliteDB, logger)

	logStore, err := interactionrepo.New(sqliteDB, logger)
	if err != nil {
		logger.Fatal("Failed to create interaction store", zap.Error(err))
	}

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// Provider registries — resolved once, unknown names are fatal.
	embedder, baseEmbedder := resolveEmbedder(cfg, store, logger)
	finder := resolveFinder(cfg, store, sqliteRepo, logger)
	contentStore := resolveContent(cfg, store, sqliteRepo, logger)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Logger:  logger,
	})

	// Use case services
	retrievalSvc := retrievaluc.New(embedder, finder, contentStore, generator, retrievaluc.Defaults{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		SourcePrefix:   cfg.Retrieval.SourcePrefix,
		Jurisdiction:   cfg.Generation.Jurisdiction,
		SystemMessage:  cfg.Generation.SystemMessage,
		Temperature:    cfg.Generation.Temperature,
		MaxTokens:      cfg.Generation.MaxTokens,
	}, logger)

	recorderSvc := interactionuc.New(logStore, cfg.Analytics.RetentionDays, logger)

	var dbPinger healthuc.DBPinger
	if store != nil {
		dbPinger = store
	} else {
		dbPinger = &sqlitePinger{db: sqliteDB}
	}
	healthSvc := healthuc.New(dbPinger, contentStore, logStore, newEmbeddingHealthChecker(baseEmbedder))

	server := chiTransport.NewServer(retrievalSvc, recorderSvc, healthSvc, logger)

	responseCache := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSec)*time.Second)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r, chiTransport.CacheMiddleware(responseCache))

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

	// Drain queued interaction writes before closing the stores.
	recorderSvc.Wait()

	logger.Info("Server stopped gracefully")
}

// resolveEmbedder builds the configured embedding provider, wrapped in the
// Redis-backed cache when a Redis store is available. The base (uncached)
// embedder is returned separately for health probing.
func resolveEmbedder(
	cfg config.Config, store db.Store, logger *zap.Logger,
) (domain.Embedder, domain.Embedder) {
	registry := provider.NewRegistry[domain.Embedder]("embedding")

	registry.Register("openai", func() (domain.Embedder, error) {
		embCfg := cfg.Embedding["openai"]
		return openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
			APIKey:     embCfg.APIKey,
			BaseURL:    embCfg.BaseURL,
			Model:      embCfg.Model,
			Dimensions: embCfg.Dimensions,
			Provider:   "openai",
			Logger:     logger,
		}), nil
	})
	registry.Register("google", func() (domain.Embedder, error) {
		embCfg := cfg.Embedding["google"]
		return googleEmb.NewEmbedder(&googleEmb.Config{
			APIKey:  embCfg.APIKey,
			BaseURL: embCfg.BaseURL,
			Model:   embCfg.Model,
			Logger:  logger,
		}), nil
	})

	base, err := registry.Resolve(cfg.Providers.Embedding)
	if err != nil {
		logger.Fatal("Failed to resolve embedding provider", zap.Error(err))
	}

	embedder := base
	if store != nil {
		ttl := time.Duration(cfg.Cache.EmbeddingTTLSec) * time.Second
		embedder = embcache.New(base, store, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	logger.Info("Embedder created",
		zap.String("provider", cfg.Providers.Embedding),
		zap.String("model", cfg.Embedding[cfg.Providers.Embedding].Model),
		zap.Bool("cached", store != nil),
	)
	return embedder, base
}

// resolveFinder builds the configured vector retrieval backend.
func resolveFinder(
	cfg config.Config, store db.Store, sqliteRepo *sqliterepo.Repo, logger *zap.Logger,
) retrievaluc.FragmentFinder {
	registry := provider.NewRegistry[retrievaluc.FragmentFinder]("retrieval")

	registry.Register("redis", func() (retrievaluc.FragmentFinder, error) {
		if store == nil {
			return nil, fmt.Errorf("redis retrieval requires database.addrs")
		}
		return vectorrepo.New(store, cfg.Retrieval.IndexName, logger), nil
	})
	registry.Register("sqlite", func() (retrievaluc.FragmentFinder, error) {
		return sqliteRepo, nil
	})

	finder, err := registry.Resolve(cfg.Providers.Retrieval)
	if err != nil {
		logger.Fatal("Failed to resolve retrieval provider", zap.Error(err))
	}
	return finder
}

// resolveContent builds the configured content backend.
func resolveContent(
	cfg config.Config, store db.Store, sqliteRepo *sqliterepo.Repo, logger *zap.Logger,
) retrievaluc.ContentStore {
	registry := provider.NewRegistry[retrievaluc.ContentStore]("content")

	registry.Register("redis", func() (retrievaluc.ContentStore, error) {
		if store == nil {
			return nil, fmt.Errorf("redis content requires database.addrs")
		}
		return contentrepo.New(store, logger), nil
	})
	registry.Register("sqlite", func() (retrievaluc.ContentStore, error) {
		return sqliteRepo, nil
	})

	content, err := registry.Resolve(cfg.Providers.Content)
	if err != nil {
		logger.Fatal("Failed to resolve content provider", zap.Error(err))
	}
	return content
}

// sqlitePinger adapts *sql.DB to the health DBPinger contract.
type sqlitePinger struct {
	db *sql.DB
}

func (p *sqlitePinger) Ping(ctx context.Context) error {
	return sqliterepo.Ping(ctx, p.db)
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
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

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
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
