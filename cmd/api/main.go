package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/api/handlers"
	"github.com/modalbot/backend/internal/cache/redis"
	"github.com/modalbot/backend/internal/catalog"
	"github.com/modalbot/backend/internal/experiments"
	"github.com/modalbot/backend/internal/inspect"
	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/internal/metrics"
	"github.com/modalbot/backend/internal/middleware/ratelimit"
	"github.com/modalbot/backend/internal/middleware/security"
	"github.com/modalbot/backend/internal/middleware/validation"
	"github.com/modalbot/backend/internal/pipeline"
	"github.com/modalbot/backend/internal/retrieval"
	"github.com/modalbot/backend/internal/storage/sqlite"
	"github.com/modalbot/backend/internal/tools"
	"github.com/modalbot/backend/internal/vector/milvus"
	"github.com/modalbot/backend/pkg/config"
	appLogger "github.com/modalbot/backend/pkg/logger"
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

	appLogger.Info("Starting Multimodal Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.VectorDim)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	for name, payload := range milvus.CollectionPayloads {
		if err := milvusClient.EnsureCollection(context.Background(), name, payload); err != nil {
			appLogger.Fatal("Failed to ensure collection", zap.String("collection", name), zap.Error(err))
		}
	}

	toolTTL := time.Duration(cfg.Tools.CacheTTLSec) * time.Second
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, toolTTL)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.FollowUpModel,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var embedder retrieval.Embedder = llmClient
	if redisClient != nil {
		embedder = retrieval.NewCachedEmbedder(llmClient, redisClient, toolTTL)
	}
	searcher := retrieval.NewSearcher(embedder, milvusClient, cfg.Retrieval)

	httpClient := &http.Client{Timeout: time.Duration(cfg.Tools.TimeoutSec) * time.Second}

	var toolCache tools.Cache
	if redisClient != nil {
		toolCache = redisClient
	}
	registry := tools.NewRegistry(toolCache)
	registry.Register(tools.NewLatestNewsTool(cfg.Tools.NewsAPIKey, httpClient))
	registry.Register(tools.NewSearchNewsTool(cfg.Tools.NewsMaxResults, httpClient))
	registry.Register(tools.NewFinancialDataTool(httpClient))
	registry.Register(tools.NewVideoTranscriptTool(searcher))
	registry.Register(tools.NewAudioTranscriptTool(searcher))

	queryPipeline := pipeline.New(llmClient, registry, searcher, sqliteClient, cfg.LLM, cfg.Retrieval)

	cat := catalog.New()
	if err := pipeline.RegisterSchema(cat); err != nil {
		appLogger.Fatal("Failed to register table schema", zap.Error(err))
	}

	toolNames := make([]string, 0)
	for _, def := range registry.Definitions() {
		toolNames = append(toolNames, def.Name)
	}
	graphBuilder := inspect.NewBuilder(cat, sqliteClient, toolNames)

	experimentRunner := experiments.NewRunner(llmClient, sqliteClient, cfg.LLM.Model, cfg.LLM.Provider)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	queryHandler := handlers.NewQueryHandler(queryPipeline, sqliteClient)
	historyHandler := handlers.NewHistoryHandler(sqliteClient)
	memoryHandler := handlers.NewMemoryHandler(sqliteClient)
	personaHandler := handlers.NewPersonaHandler(sqliteClient)
	experimentHandler := handlers.NewExperimentHandler(experimentRunner)
	inspectHandler := handlers.NewInspectHandler(graphBuilder)
	toolsHandler := handlers.NewToolsHandler(registry)
	wsHandler := handlers.NewWebSocketHandler(queryPipeline)

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/records", queryHandler.ListQueryRecords)
	api.Get("/query/record", queryHandler.GetQueryRecord)
	api.Delete("/query/record", queryHandler.DeleteQueryRecord)

	api.Get("/history", historyHandler.GetHistory)
	api.Delete("/history", historyHandler.DeleteTurn)

	api.Post("/memory", memoryHandler.AddMemory)
	api.Get("/memory", memoryHandler.ListMemory)
	api.Delete("/memory", memoryHandler.DeleteMemory)

	api.Post("/personas", personaHandler.CreatePersona)
	api.Get("/personas", personaHandler.ListPersonas)
	api.Put("/personas/:name", personaHandler.UpdatePersona)
	api.Delete("/personas/:name", personaHandler.DeletePersona)

	api.Post("/experiments", experimentHandler.RunExperiment)
	api.Get("/experiments", experimentHandler.ListExperiments)

	api.Get("/pipeline/graph", inspectHandler.GetPipelineGraph)
	api.Get("/tools", toolsHandler.ListTools)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

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
	app.Shutdown()
	appLogger.Info("Server stopped")
}
