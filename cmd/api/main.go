package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/api"
	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/cache/redis"
	"github.com/scripture-rag/backend/internal/ingestion"
	"github.com/scripture-rag/backend/internal/metrics"
	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/internal/storage/sqlite"
	"github.com/scripture-rag/backend/pkg/config"
	appLogger "github.com/scripture-rag/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Scripture Cross-Reference API Server",
		zap.String("artifacts_source", cfg.Artifacts.Source),
	)

	metrics.Init()

	var sqliteClient *sqlite.Client
	if cfg.SQLite.Enabled || cfg.Artifacts.Source == "sqlite" {
		sqliteClient, err = sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, artifact cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	deps := api.Deps{}

	var loader artifacts.Loader
	switch cfg.Artifacts.Source {
	case "http":
		var opts []artifacts.HTTPOption
		if redisClient != nil {
			opts = append(opts, artifacts.WithCache(redisClient, cfg.Artifacts.CacheTTL))
		}
		httpLoader := artifacts.NewHTTPLoader(cfg.Artifacts.BaseURL, opts...)
		loader = httpLoader
		deps.Artifacts = httpLoader
	case "sqlite":
		loader = sqliteClient
	default:
		loader = artifacts.NewFileLoader(cfg.Artifacts.Dir)
	}

	engine := query.NewEngine(loader, query.Options{
		CacheSize:         cfg.Engine.CacheSize,
		DefaultMaxResults: cfg.Engine.DefaultMaxResults,
		SemanticThreshold: cfg.Builder.SimilarityThreshold,
	})
	deps.Engine = engine

	if sqliteClient != nil {
		deps.QueryLog = sqliteClient
	}

	if table, err := ingestion.LoadVerseTable(cfg.Builder.VerseTable); err == nil {
		deps.Texts = table
		appLogger.Info("Verse texts loaded", zap.Int("verses", table.Len()))
	} else if !errors.Is(err, artifacts.ErrNotFound) {
		appLogger.Warn("Failed to load verse texts", zap.Error(err))
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = engine.Initialize(initCtx)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to initialize retrieval engine", zap.Error(err))
	}

	stats := engine.Stats()
	appLogger.Info("Retrieval engine ready",
		zap.Int("reference_verses", stats.ReferenceVerses),
		zap.Int("thematic_verses", stats.ThematicVerses),
		zap.String("semantic_source", stats.SemanticSource),
	)

	server := api.NewServer(cfg.Server, cfg.Engine.DefaultMaxResults, deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		appLogger.Error("Shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
