package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/api/handlers"
	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/cache/redis"
	"github.com/healthsphere/grounded-reports/internal/diet"
	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/generator"
	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/kg/neo4j"
	"github.com/healthsphere/grounded-reports/internal/knowledge"
	"github.com/healthsphere/grounded-reports/internal/llm"
	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/internal/middleware/ratelimit"
	"github.com/healthsphere/grounded-reports/internal/middleware/security"
	"github.com/healthsphere/grounded-reports/internal/middleware/validation"
	"github.com/healthsphere/grounded-reports/internal/query"
	"github.com/healthsphere/grounded-reports/internal/report"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/internal/search/web"
	"github.com/healthsphere/grounded-reports/internal/storage/sqlite"
	"github.com/healthsphere/grounded-reports/internal/vector"
	"github.com/healthsphere/grounded-reports/internal/vector/zilliz"
	"github.com/healthsphere/grounded-reports/pkg/config"
	appLogger "github.com/healthsphere/grounded-reports/pkg/logger"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

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

	appLogger.Info("Starting grounded report API server",
		zap.String("environment", cfg.App.Environment),
	)

	metrics.Init()
	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var neo4jClient *neo4j.Client
	if cfg.Neo4j.Enabled {
		neo4jClient, err = neo4j.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, continuing without condition graph", zap.Error(err))
			neo4jClient = nil
		} else {
			defer neo4jClient.Close(context.Background())
			if err := neo4jClient.EnsureConstraints(ctx); err != nil {
				appLogger.Warn("Failed to ensure Neo4j constraints", zap.Error(err))
			}
		}
	}

	dim := cfg.LLM.EmbeddingDim

	var backend vector.Backend
	if cfg.Zilliz.Enabled {
		zillizClient, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, dim)
		if err != nil {
			appLogger.Warn("Zilliz unavailable, using in-process vector search", zap.Error(err))
		} else {
			defer zillizClient.Close()
			if err := zillizClient.CreateCollection(ctx); err != nil {
				appLogger.Warn("Failed to create collection", zap.Error(err))
			} else {
				backend = zillizClient
			}
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	}, appLogger.Named("llm"))

	embedder := buildEmbedder(cfg, llmClient, redisClient)

	var secondary generator.Completer
	if cfg.LLM.APIKey != "" {
		secondary = llmClient
	}
	gen := generator.NewAdapter(generator.Config{
		Endpoint:         cfg.Generator.Endpoint,
		APIKey:           cfg.Generator.APIKey,
		Model:            cfg.Generator.Model,
		Timeout:          time.Duration(cfg.Generator.TimeoutSec) * time.Second,
		MaxAttempts:      cfg.Generator.MaxAttempts,
		InitialBackoff:   time.Duration(cfg.Generator.InitialBackoffMs) * time.Millisecond,
		FailureThreshold: cfg.Generator.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Generator.OpenTimeoutSec) * time.Second,
	}, secondary, appLogger.Named("generator"))

	store := vector.NewStore(dim, backend, appLogger.Named("vector"))
	knowledgeProcessor := knowledge.NewProcessor(
		sqliteClient,
		store,
		embedder,
		cfg.Pipeline.ChunkSize,
		cfg.Pipeline.ChunkOverlap,
		appLogger.Named("knowledge"),
	)
	if n, err := knowledgeProcessor.LoadStore(ctx); err != nil {
		appLogger.Warn("Failed to load knowledge store", zap.Error(err))
	} else {
		appLogger.Info("Knowledge store loaded", zap.Int("chunks", n))
	}

	catalog, err := diet.DefaultCatalog()
	if err != nil {
		appLogger.Fatal("Failed to load diet catalog", zap.Error(err))
	}

	extractor := extraction.NewExtractor(appLogger.Named("extraction"))

	reportDeps := report.Dependencies{
		Text:      ingestion.NewTextExtractor(appLogger.Named("ingestion")),
		Extractor: extractor,
		Retriever: retrieval.NewRetriever(embedder, cfg.Pipeline.TopK, appLogger.Named("retrieval")),
		Generator: gen,
		Diet:      diet.NewEngine(catalog, appLogger.Named("diet")),
		Store:     sqliteClient,
	}
	queryDeps := query.Dependencies{
		Store:      sqliteClient,
		Knowledge:  knowledgeProcessor,
		Aggregator: assistant.NewAggregator(extractor, appLogger.Named("assistant")),
		Generator:  gen,
	}
	if redisClient != nil {
		reportDeps.Cache = redisClient
		queryDeps.Cache = redisClient
	}
	if neo4jClient != nil {
		reportDeps.Graph = neo4jClient
		queryDeps.Conditions = neo4jClient
	}
	if cfg.Web.Enabled {
		queryDeps.Scraper = web.NewClient(
			time.Duration(cfg.Web.TimeoutSec)*time.Second,
			cfg.Web.MaxPages,
			cfg.Web.MaxContentChars,
		)
	}

	dev := cfg.App.IsDevelopment()

	if err := os.MkdirAll(cfg.Pipeline.UploadDir, 0o750); err != nil {
		appLogger.Fatal("Failed to create upload directory", zap.String("dir", cfg.Pipeline.UploadDir), zap.Error(err))
	}
	reportProcessor := report.NewProcessor(report.Config{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		UploadDir:    cfg.Pipeline.UploadDir,
		Debug:        dev,
	}, reportDeps, appLogger.Named("report"))

	queryEngine := query.NewEngine(query.Config{
		KnowledgeTopK: cfg.Pipeline.KnowledgeTopK,
		ReportTTL:     cfg.Cache.ReportTTL(),
	}, queryDeps)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: dev}))

	app.Get("/metrics", metrics.MetricsHandler())

	reportHandler := handlers.NewReportHandler(reportProcessor, dev)
	queryHandler := handlers.NewQueryHandler(queryEngine, dev)
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeProcessor, dev)
	wsHandler := handlers.NewWebSocketHandler(queryEngine)

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}),
	)

	api.Post("/process-report", reportHandler.ProcessReport)
	api.Post("/process-report/text", reportHandler.ProcessReportText)

	api.Post("/chatbot/query", queryHandler.HandleQuery)
	api.Get("/chatbot/history", queryHandler.GetQueryHistory)
	api.Post("/chatbot/feedback", queryHandler.SubmitFeedback)
	api.Get("/chatbot/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ok",
			"knowledge_chunks": store.Len(),
			"report_cache":     redisClient != nil,
			"condition_graph":  neo4jClient != nil,
			"website_context":  cfg.Web.Enabled,
		})
	})

	api.Post("/knowledge", knowledgeHandler.AddDocument)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if redisClient != nil {
			if err := redisClient.Ping(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "degraded",
					"redis":  err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

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
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// buildEmbedder prefers the provider's embeddings and falls back to the
// local hash embedder. Only provider vectors are cached in Redis.
func buildEmbedder(cfg *config.Config, llmClient *llm.Client, redisClient *redis.Client) retrieval.Embedder {
	hash := retrieval.NewHashEmbedder(cfg.LLM.EmbeddingDim)
	if cfg.LLM.APIKey == "" {
		return hash
	}

	var cache retrieval.VectorCache
	if redisClient != nil {
		cache = redisClient
	}
	return retrieval.NewProviderChain(
		retrieval.NewProviderEmbedder(llmClient, cfg.LLM.EmbeddingDim),
		hash,
		cache,
		cfg.LLM.EmbeddingModel,
		cfg.Cache.EmbeddingTTL(),
		appLogger.Named("embedder"),
	)
}
