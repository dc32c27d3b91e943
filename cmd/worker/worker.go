package main

import (
	"context"
	"log"
	"time"

	"docintel-backend/internal/ai"
	"docintel-backend/internal/config"
	"docintel-backend/internal/logger"
	"docintel-backend/internal/queue"
	"docintel-backend/internal/telemetry"
	"docintel-backend/services"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	// Connect to Redis for the result cache
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

	sessions := services.NewSessionStore(time.Duration(cfg.SessionTTLMinutes) * time.Minute)
	if err := sessions.StartJanitor(time.Minute); err != nil {
		log.Fatal("Failed to start session janitor:", err)
	}
	defer sessions.StopJanitor()

	pipeline, err := services.NewPipeline(cfg, geminiClient, embedder, sessions, metrics)
	if err != nil {
		log.Fatal("Failed to build pipeline:", err)
	}

	repo := services.NewRepository(mongoClient, cfg.DBName)
	cache := services.NewResultCache(rdb, time.Duration(cfg.ResultCacheTTLMinutes)*time.Minute)
	documents := services.NewDocumentService(cfg, repo, pipeline, cache)

	// Sweep documents stuck in processing, e.g. after a worker crash
	sweeper := gocron.NewScheduler(time.UTC)
	if _, err := sweeper.Every(10 * time.Minute).Do(func() {
		failed, err := repo.FailStaleProcessing(context.Background(), 2*time.Hour)
		if err != nil {
			logger.Error("stale document sweep failed", "error", err)
			return
		}
		if failed > 0 {
			logger.Warn("marked stale processing documents as failed", "count", failed)
		}
	}); err != nil {
		log.Fatal("Failed to schedule stale document sweep:", err)
	}
	sweeper.StartAsync()
	defer sweeper.Stop()

	// Redis options for Asynq
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6, // 60% of workers
				"default":  3, // 30% of workers
				"low":      1, // 10% of workers
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create task processor
	processor := queue.NewTaskProcessor(documents)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskProcessDocument, processor.ProcessDocument)

	logger.Info("starting worker",
		"concurrency", 10,
		"queues", "critical(6), default(3), low(1)",
		"redis", redisOpt.Addr,
	)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
