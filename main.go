package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dealhunter/internal/api"
	"dealhunter/internal/cache"
	"dealhunter/internal/catalog"
	"dealhunter/internal/config"
	"dealhunter/internal/database"
	"dealhunter/internal/executor"
	"dealhunter/internal/ledger"
	"dealhunter/internal/monitor"
	"dealhunter/internal/notify"
	"dealhunter/internal/scheduler"
	"dealhunter/internal/services/webstore"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Retailer storefront client: probe provider plus purchase strategy
	store := webstore.NewClient(cfg.WebstoreBaseURL, cfg.WebstoreAPIKey)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}

	cat := catalog.New(db)
	probeCache := cache.NewStore()
	purchases := ledger.New(db)

	exec := executor.New(executor.Config{
		Capacity:     cfg.ExecutorCapacity,
		MaxAttempts:  cfg.MaxAttempts,
		Cooldown:     cfg.RetryCooldown,
		MinStepDelay: cfg.MinStepDelay,
		MaxStepDelay: cfg.MaxStepDelay,
		DryRun:       cfg.DryRun,
	}, purchases, store, cat, notifier)

	orch := monitor.New(cat, store, probeCache, exec, notifier)
	orch.SetFallback(cfg.ProbeFallback)

	sched := scheduler.New(orch, probeCache, store, scheduler.Periods{
		Fast:    cfg.FastPeriod,
		Medium:  cfg.MediumPeriod,
		Slow:    cfg.SlowPeriod,
		Cleanup: cfg.CleanupPeriod,
	}, cfg.CacheRetention)

	exec.Start()
	sched.Start()

	if cfg.DryRun {
		log.Println("Dry-run mode: purchases will be simulated, not executed")
	}

	// Initialize Gin router
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	apiGroup := r.Group("/api/v1")
	handler := api.SetupRoutes(apiGroup, db, sched, orch, exec, probeCache, purchases)

	// Live status stream
	r.GET("/ws", handler.StatusStream)

	// Graceful shutdown: stop scheduling first so no new intents arrive,
	// then drain the executor.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown signal received")
		sched.Stop()
		exec.Stop()
		os.Exit(0)
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
