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
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/client"
	"tenderzen/smart-import/internal/config"
	"tenderzen/smart-import/internal/handlers"
	"tenderzen/smart-import/internal/repositories"
	"tenderzen/smart-import/internal/services"
	"tenderzen/smart-import/internal/smartimport"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("✅ Config loaded successfully", zap.String("env", cfg.Server.Env))

	// Initialize database
	db, err := config.InitDatabase(cfg, log)
	if err != nil {
		log.Fatal("❌ Failed to initialize database", zap.Error(err))
	}

	// Initialize repositories
	importRepo := repositories.NewImportRepository(db)
	tenderRepo := repositories.NewTenderRepository(db)
	log.Info("✅ Repositories initialized successfully")

	// Initialize services
	storageService := services.NewStorageService(cfg.Storage.UploadPath)
	if err := storageService.EnsureUploadDir(); err != nil {
		log.Fatal("❌ Failed to create upload directory", zap.Error(err))
	}
	extractor := services.NewTextExtractor(log.Named("extractor"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	llm, err := newLLM(ctx, cfg, log)
	if err != nil {
		log.Fatal("❌ Failed to initialize LLM provider", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}
	log.Info("✅ LLM provider initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("standard", llm.Model("standard")),
		zap.String("pro", llm.Model("pro")),
	)

	analyzer, err := services.NewAnalyzerService(llm, log.Named("analyzer"))
	if err != nil {
		log.Fatal("❌ Failed to initialize analyzer", zap.Error(err))
	}
	pipeline := services.NewAnalysisPipeline(importRepo, storageService, extractor, analyzer, log.Named("pipeline"))

	// Initialize worker
	worker := services.NewWorker(importRepo, pipeline, services.WorkerConfig{
		Concurrency:   cfg.Worker.Concurrency,
		QueueSize:     cfg.Worker.QueueSize,
		SweepInterval: cfg.Worker.SweepInterval,
		StaleAfter:    cfg.Worker.StaleAfter,
	}, log.Named("worker"))
	worker.Start(ctx)
	log.Info("✅ Worker started successfully", zap.Int("concurrency", cfg.Worker.Concurrency))

	importService := services.NewImportService(
		importRepo,
		tenderRepo,
		storageService,
		worker,
		llm,
		services.UploadLimits{
			MaxFiles:     cfg.Storage.MaxFiles,
			MaxFileSize:  cfg.Storage.MaxFileSize,
			MaxTotalSize: cfg.Storage.MaxTotalSize,
		},
		log.Named("import"),
	)
	exportService := services.NewExportService(importRepo, log.Named("export"))

	// Session engine
	backend := client.New(client.Config{
		BaseURL:   cfg.BackendBaseURL(),
		AuthToken: cfg.Import.AuthToken,
	}, nil, log.Named("client"))
	controllerCfg := cfg.ControllerConfig()
	poller := smartimport.NewStatusPoller(backend, controllerCfg.Poll, log.Named("poller"))
	merger := smartimport.NewExtractionMerger(log.Named("merger"))
	registry := smartimport.NewRegistry(func() *smartimport.JobController {
		return smartimport.NewJobController(backend, poller, merger, controllerCfg, log.Named("session"))
	}, cfg.Import.SessionTTL, log.Named("registry"))
	registry.Start(cfg.Import.EvictInterval)
	log.Info("✅ Session engine initialized", zap.String("backend", cfg.BackendBaseURL()))

	// Initialize handlers
	smartImportHandler := handlers.NewSmartImportHandler(importService, exportService)
	sessionHandler := handlers.NewSessionHandler(registry, log.Named("sessions"))

	// Create Fiber app. No WriteTimeout: event streams stay open.
	app := fiber.New(fiber.Config{
		AppName:      "Smart Import API",
		ReadTimeout:  60 * time.Second,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    int(cfg.Storage.MaxTotalSize) + 1024*1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	// Routes
	api := app.Group("/api/v1")

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"time":     time.Now(),
			"sessions": registry.Len(),
		})
	})

	smartImportHandler.Register(api.Group("/smart-import"))
	sessionHandler.Register(api.Group("/sessions"))

	// Root route
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Smart Import API",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /api/v1/smart-import/upload",
				"GET /api/v1/smart-import/models",
				"POST /api/v1/smart-import/:id/analyze",
				"POST /api/v1/smart-import/:id/reanalyze",
				"GET /api/v1/smart-import/:id/status",
				"POST /api/v1/smart-import/:id/cancel",
				"POST /api/v1/smart-import/:id/create-tender",
				"GET /api/v1/smart-import/:id/export",
				"POST /api/v1/sessions",
				"GET /api/v1/sessions/:id/events",
			},
		})
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("🛑 Shutting down server...")
		registry.Stop()
		worker.Stop()
		cancel()
		if err := app.Shutdown(); err != nil {
			log.Error("❌ Server forced to shutdown", zap.Error(err))
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Info("🚀 Server starting", zap.String("addr", addr))

	if err := app.Listen(addr); err != nil {
		log.Fatal("❌ Failed to start server", zap.Error(err))
	}
}

// newLLM builds the configured provider behind the rate limiter and retry policy.
func newLLM(ctx context.Context, cfg *config.Config, log *zap.Logger) (services.LLMService, error) {
	var (
		provider services.LLMService
		err      error
	)
	switch cfg.LLM.Provider {
	case "gemini":
		provider, err = services.NewGeminiService(ctx, services.GeminiConfig{
			APIKey:        cfg.Gemini.APIKey,
			StandardModel: cfg.Gemini.StandardModel,
			ProModel:      cfg.Gemini.ProModel,
		}, log.Named("gemini"))
	case "ollama":
		provider, err = services.NewOllamaService(services.OllamaConfig{
			StandardModel: cfg.Ollama.StandardModel,
			ProModel:      cfg.Ollama.ProModel,
		}, log.Named("ollama"))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	limiter := services.NewRateLimiter(services.RateLimitConfig{
		RequestsPerSecond: cfg.LLM.RateRPS,
		BurstSize:         cfg.LLM.Burst,
	})
	return services.NewRetryingLLM(provider, limiter, services.RetryConfig{
		MaxAttempts:  cfg.Worker.RetryMaxAttempts,
		InitialDelay: cfg.Worker.RetryInitialDelay,
	}, log.Named("llm")), nil
}
