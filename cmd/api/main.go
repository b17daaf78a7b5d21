package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/api/handlers"
	"github.com/model-bridge/backend/internal/cache/redis"
	"github.com/model-bridge/backend/internal/experiment"
	"github.com/model-bridge/backend/internal/llm"
	"github.com/model-bridge/backend/internal/metrics"
	"github.com/model-bridge/backend/internal/middleware/ratelimit"
	"github.com/model-bridge/backend/internal/middleware/security"
	"github.com/model-bridge/backend/internal/middleware/validation"
	"github.com/model-bridge/backend/internal/runner"
	"github.com/model-bridge/backend/internal/storage/cached"
	"github.com/model-bridge/backend/internal/storage/memory"
	"github.com/model-bridge/backend/internal/storage/models"
	"github.com/model-bridge/backend/internal/storage/neo4j"
	"github.com/model-bridge/backend/internal/storage/sqlite"
	"github.com/model-bridge/backend/pkg/config"
	appLogger "github.com/model-bridge/backend/pkg/logger"
)

type store interface {
	experiment.Repository
	Ping(ctx context.Context) error
}

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

	appLogger.Info("Starting Model Bridge experiments API server",
		zap.String("storage", cfg.Storage.Driver),
	)

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := openStore(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer closeRepo()

	checks := map[string]handlers.Pinger{"storage": repo}

	var counter handlers.AssignmentCounter
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		repo = cached.New(repo, redisClient, time.Duration(cfg.Redis.CacheTTLSec)*time.Second)
		counter = redisClient
		checks["cache"] = redisClient
	}

	manager := experiment.NewManager(repo, experiment.Options{
		DefaultDurationDays: cfg.Experiments.DefaultDurationDays,
		DefaultSignificance: cfg.Experiments.DefaultSignificance,
		DefaultMethod:       models.SignificanceMethod(cfg.Experiments.SignificanceMethod),
		SplitTolerance:      cfg.Experiments.SplitTolerance,
		MaxSubjectIDLength:  cfg.Experiments.MaxSubjectIDLength,
	})

	var variantRunner *runner.Runner
	if cfg.LLM.Enabled {
		pricing := llm.Pricing{
			PromptPer1K:     cfg.LLM.PromptCostPer1K,
			CompletionPer1K: cfg.LLM.CompletionCostPer1K,
		}
		llmClient := llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.DefaultModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
			Pricing:     pricing,
		})
		variantRunner = runner.New(manager, llmClient, llmClient, runner.Options{
			JudgeModel: cfg.LLM.JudgeModel,
			Pricing:    pricing,
		})
	}

	expirer := experiment.NewExpirer(manager, time.Duration(cfg.Experiments.ExpirySweepInterval)*time.Second)
	go expirer.Run(ctx)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Organization-ID, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxBodySize: cfg.Server.BodyLimit,
		Logger:      appLogger.Named("validation"),
	}))

	handlers.RegisterRoutes(api,
		handlers.NewExperimentHandler(manager, counter),
		handlers.NewExecutionHandler(manager, variantRunner),
		handlers.NewHealthHandler(checks),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		appLogger.Warn("Using in-memory storage; experiments are lost on restart")
		return memory.NewStore(), func() {}, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := client.InitSchema(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return client, func() { client.Close() }, nil

	case "neo4j":
		client, err := neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			client.Close(context.Background())
			return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return client, func() { client.Close(context.Background()) }, nil
	}

	return nil, nil, fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
}
