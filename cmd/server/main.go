package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redline/internal/config"
	"redline/internal/console"
	"redline/internal/database"
	"redline/internal/execution"
	"redline/internal/handlers"
	"redline/internal/jobs"
	"redline/internal/llm"
	"redline/internal/logging"
	"redline/internal/middleware"
	"redline/internal/orchestrator"
	"redline/internal/services"
	"redline/internal/tools"
	"redline/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logging.Init()

	log.Println("🚀 Starting Redline Server...")

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabasePath)

	// Database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Redis (optional, enables cross-instance event fan-out)
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis unavailable: %v (running local-only)", err)
			redisService = nil
		} else {
			defer redisService.Close()
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - session events stay local to this instance")
	}

	// Connection manager, metrics, and the session event bus
	connManager := services.NewConnectionManager()
	metrics := services.InitMetrics(connManager)
	sessionBus := services.NewSessionBus(connManager, redisService, services.NewRenderer(), metrics)
	if err := sessionBus.Start(); err != nil {
		log.Fatalf("❌ Failed to start session bus: %v", err)
	}
	defer sessionBus.Stop()

	// Console interpreter client
	consoleClient := console.NewLocalClient(cfg.ConsoleCommand, cfg.ConsolePrompt, cfg.ConsoleStartupTimeout)
	defer consoleClient.StopAll()

	// Tool registry with approval policy
	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolRegistry, consoleClient, db); err != nil {
		log.Fatalf("❌ Failed to register tools: %v", err)
	}
	policy, err := tools.LoadPolicy(cfg.ToolPolicyPath)
	if err != nil {
		log.Fatalf("❌ Failed to load tool policy: %v", err)
	}
	toolRegistry.ApplyPolicy(policy)
	stopWatch, err := tools.WatchPolicy(cfg.ToolPolicyPath, toolRegistry)
	if err != nil {
		log.Printf("⚠️ Tool policy hot-reload disabled: %v", err)
	} else {
		defer stopWatch()
	}
	log.Printf("🔧 %d tools registered", toolRegistry.Count())

	// LLM client
	if cfg.LLMAPIKey == "" {
		log.Println("⚠️ LLM_API_KEY not set - LLM requests will fail until configured")
	}
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMRequestsPerMin)

	// Session orchestrators
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		DB:            db,
		LLM:           llmClient,
		Engine:        execution.NewEngine(toolRegistry),
		Tools:         toolRegistry,
		Console:       consoleClient,
		Broadcaster:   sessionBus,
		ContextTokens: cfg.LLMContextTokens,
		SystemPrompt:  cfg.SystemPrompt,
	})
	defer registry.CloseAll()
	metrics.RegisterSessionsGauge(func() float64 {
		return float64(len(registry.All()))
	})

	// Background maintenance jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	sweep := jobs.NewCompactionSweep(registry)
	if err := scheduler.RegisterCron("compaction-sweep", cfg.CompactionSweepCron, sweep.Run); err != nil {
		log.Fatalf("❌ %v", err)
	}
	archiver := jobs.NewSessionArchiver(db, cfg.SessionRetentionDays)
	if err := scheduler.RegisterCron("session-archiver", "0 3 * * *", archiver.Run); err != nil {
		log.Fatalf("❌ %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Auth
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 12*time.Hour)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
	} else if cfg.Environment == "production" {
		log.Fatal("❌ JWT_SECRET is required in production")
	} else {
		log.Println("⚠️ JWT_SECRET not set - authentication disabled (development mode)")
	}

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName:               "Redline",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getEnvDefault("CORS_ORIGINS", "http://localhost:5173"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	prom := fiberprometheus.New("redline")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)

	// Routes
	healthHandler := handlers.NewHealthHandler(connManager, toolRegistry)
	authHandler := handlers.NewAuthHandler(jwtAuth, cfg.OperatorPasswordHash)
	sessionHandler := handlers.NewSessionHandler(db, registry, handlers.SessionConfig{
		DefaultModel:        cfg.LLMModel,
		AutonomousByDefault: cfg.AutonomousByDefault,
	})
	wsHandler := handlers.NewWebSocketHandler(connManager, registry, metrics)

	app.Get("/health", healthHandler.Handle)
	app.Post("/api/auth/login", authHandler.Login)

	api := app.Group("/api", middleware.LocalAuthMiddleware(jwtAuth))
	api.Post("/sessions", sessionHandler.Create)
	api.Get("/sessions", sessionHandler.List)
	api.Get("/sessions/:id", sessionHandler.Get)
	api.Get("/sessions/:id/state", sessionHandler.State)
	api.Post("/sessions/:id/compact", sessionHandler.Compact)
	api.Get("/sessions/:id/memory", sessionHandler.GetMemory)
	api.Put("/sessions/:id/memory", sessionHandler.PutMemory)

	app.Use("/ws", middleware.LocalAuthMiddleware(jwtAuth))
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.Handle))

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.Printf("🛑 Received %v, shutting down...", sig)
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Server shutdown error: %v", err)
		}
	}()

	log.Printf("✅ Redline listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
