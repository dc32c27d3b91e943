package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docintel-backend/internal/ai"
	"docintel-backend/internal/config"
	"docintel-backend/internal/logger"
	"docintel-backend/internal/telemetry"
	"docintel-backend/middleware"
	"docintel-backend/routes"
	"docintel-backend/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Initialize tracing
	shutdownTracer, err := telemetry.InitTracer("docintel-backend")
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Connect to Redis for the result cache and the task queue
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Initialize Gemini client
	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	var embedder services.Embedder
	if cfg.EmbeddingsEnabled {
		geminiEmbedder, err := ai.NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.EmbeddingsModel)
		if err != nil {
			log.Fatal("Failed to initialize embedder:", err)
		}
		defer geminiEmbedder.Close()
		embedder = geminiEmbedder
	}

	// Session store with scheduled eviction
	sessions := services.NewSessionStore(time.Duration(cfg.SessionTTLMinutes) * time.Minute)
	if err := sessions.StartJanitor(time.Minute); err != nil {
		log.Fatal("Failed to start session janitor:", err)
	}
	defer sessions.StopJanitor()

	// Wire the pipeline
	pipeline, err := services.NewPipeline(cfg, geminiClient, embedder, sessions, metrics)
	if err != nil {
		log.Fatal("Failed to build pipeline:", err)
	}

	repo := services.NewRepository(mongoClient, cfg.DBName)
	cache := services.NewResultCache(rdb, time.Duration(cfg.ResultCacheTTLMinutes)*time.Minute)
	documents := services.NewDocumentService(cfg, repo, pipeline, cache)

	// Asynq client for enqueuing background runs
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Setup routes
	routes.SetupHealthRoutes(router)
	routes.SetupDocumentRoutes(router, cfg, documents, asynqClient)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
