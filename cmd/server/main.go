package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"harmonia/internal/config"
	"harmonia/internal/database"
	"harmonia/internal/handlers"
	"harmonia/internal/jobs"
	"harmonia/internal/llm"
	"harmonia/internal/logging"
	"harmonia/internal/metrics"
	"harmonia/internal/middleware"
	"harmonia/internal/preflight"
	"harmonia/internal/processing"
	"harmonia/internal/prompts"
	"harmonia/internal/search"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Harmonia Memory Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Data: %s, LLM: %s/%s)",
		cfg.Port, cfg.DataDir, cfg.LLMHost, cfg.LLMModel)

	metrics.Init()
	log.Println("✅ Prometheus metrics initialized")

	// Per-user storage router
	router, err := database.NewRouter(cfg.DataDir, cfg.HandleIdleTTL, cfg.HandleSweepPeriod)
	if err != nil {
		log.Fatalf("❌ Failed to initialize storage router: %v", err)
	}
	defer router.CloseAll()
	log.Println("✅ Storage router initialized")

	// LLM client
	client := llm.NewClient(cfg.LLMHost, cfg.LLMModel, cfg.LLMTimeout, cfg.LLMMaxRetries)
	log.Println("✅ LLM client initialized")

	// Pre-flight checks
	checker := preflight.NewChecker(cfg, client)
	if preflight.HasFailures(checker.RunAll()) {
		log.Println("\n❌ Pre-flight checks failed. Please fix the issues above before starting the server.")
		os.Exit(1)
	}

	// Extraction pipeline and conflict resolution
	pipeline := processing.NewPipeline(client, processing.PipelineConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxMemories:         cfg.MaxMemories,
		BatchWorkers:        cfg.BatchWorkers,
		RequestsPerSecond:   cfg.LLMRequestsPerSecond,
	})
	resolver := processing.NewConflictResolver(processing.ResolverPreferences{
		ConfidenceThreshold: cfg.ContradictionThreshold,
		MaxMergesPerBatch:   cfg.MaxMergesPerBatch,
		PreserveOriginal:    true,
	})
	manager := processing.NewManager(router, pipeline, resolver)
	log.Println("✅ Memory processing pipeline initialized")

	// Search engine
	engine := search.NewEngine(router, cfg.DefaultPageSize, cfg.MaxPageSize, cfg.CorpusStatsTTL)
	log.Println("✅ Search engine initialized")

	// Prompt version registry, seeded with the built-in templates
	registry, err := prompts.NewRegistry(filepath.Join(cfg.DataDir, "prompt_versions"))
	if err != nil {
		log.Fatalf("❌ Failed to initialize prompt registry: %v", err)
	}
	for _, tpl := range prompts.NewBuilder().Templates() {
		if _, err := registry.Register(tpl, "built-in extraction template", "harmonia"); err != nil {
			log.Printf("⚠️ Failed to register template %s: %v", tpl.Name, err)
		}
	}
	log.Println("✅ Prompt registry initialized")

	// Background jobs
	scheduler, err := jobs.NewScheduler(client, router, cfg.LLMHealthCheckInterval, time.Hour)
	if err != nil {
		log.Fatalf("❌ Failed to initialize background jobs: %v", err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:      "Harmonia v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second, // extraction calls can wait on a cold local model
		IdleTimeout:  120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("harmonia")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key",
	}))

	memoryHandler := handlers.NewMemoryHandler(manager, engine, router)
	healthHandler := handlers.NewHealthHandler(router, client, engine, manager)
	adminHandler := handlers.NewAdminHandler(router, registry, engine, filepath.Join(cfg.DataDir, "backups"))

	api := app.Group("/api/v1")

	// Public endpoints
	api.Get("/health", healthHandler.Handle)
	api.Get("/health/simple", healthHandler.Simple)

	// Everything else requires a key (when enabled) and counts against limits
	api.Use(middleware.APIKeyMiddleware(cfg))
	api.Use(middleware.MinuteRateLimiter(cfg))
	api.Use(middleware.HourRateLimiter(cfg))
	if cfg.RateLimitEnabled {
		log.Println("🛡️  [RATE-LIMIT] Rate limiting enabled")
	}

	api.Get("/stats", healthHandler.Stats)

	memory := api.Group("/memory")
	memory.Post("/store", memoryHandler.Store)
	memory.Get("/search", memoryHandler.Search)
	memory.Get("/list", memoryHandler.List)
	memory.Get("/export", memoryHandler.Export) // Must be before :id to avoid route conflict
	memory.Get("/:id", memoryHandler.Get)
	memory.Delete("/:id", memoryHandler.Delete)

	admin := api.Group("/admin")
	admin.Get("/users", adminHandler.Users)
	admin.Delete("/users/:id", adminHandler.DeleteUser)
	admin.Post("/users/:id/backup", adminHandler.BackupUser)
	admin.Get("/prompts", adminHandler.Prompts)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		scheduler.Stop()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
