package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/classmetrics/evaluation-service/internal/ai"
	"github.com/classmetrics/evaluation-service/internal/cache"
	"github.com/classmetrics/evaluation-service/internal/config"
	"github.com/classmetrics/evaluation-service/internal/events"
	"github.com/classmetrics/evaluation-service/internal/handlers"
	"github.com/classmetrics/evaluation-service/internal/repositories/casdoor"
	"github.com/classmetrics/evaluation-service/internal/repositories/postgres"
	"github.com/classmetrics/evaluation-service/internal/services"
	"github.com/classmetrics/evaluation-service/internal/utils"
	"github.com/classmetrics/evaluation-service/internal/validator"
	"github.com/classmetrics/evaluation-service/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(slogLogger)
	logger := utils.NewSlogLogger(slogLogger)

	logger.Info("Starting evaluation service", "environment", cfg.Environment, "port", cfg.Port)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	// Initialize Redis (optional; the service degrades to uncached reads)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Error("Failed to initialize Redis", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("REDIS_URL not set, running without cache")
	}

	// Initialize repositories
	casdoorConfig := casdoor.CasdoorConfig{
		Endpoint:         cfg.Casdoor.Endpoint,
		ClientID:         cfg.Casdoor.ClientID,
		ClientSecret:     cfg.Casdoor.ClientSecret,
		Certificate:      cfg.Casdoor.Cert,
		OrganizationName: cfg.Casdoor.Organization,
		ApplicationName:  cfg.Casdoor.Application,
	}
	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:            db,
		RedisClient:   redisClient,
		CasdoorConfig: casdoorConfig,
	})
	if err := repoManager.Initialize(); err != nil {
		logger.Error("Failed to initialize repositories", "error", err)
		os.Exit(1)
	}
	repo := repoManager.GetRepository()

	// Initialize validator
	v := validator.New()

	// Initialize cache manager
	cacheManager := cache.NewCacheManager(redisClient)

	// Initialize AI evaluator for open-ended grading
	evaluator := ai.NewOpenAIEvaluator(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)

	// Initialize event publisher (Kafka when brokers are configured)
	var eventPublisher events.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		eventPublisher, err = events.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, slogLogger)
		if err != nil {
			logger.Error("Failed to initialize Kafka publisher", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set, events will not leave the process")
		eventPublisher = events.NewMockEventPublisher(slogLogger)
	}

	// Initialize services
	serviceConfig := services.ServiceManagerConfig{
		Grader: services.OpenEndedGraderConfig{
			MaxRetries:  cfg.Grading.MaxRetries,
			CallTimeout: cfg.Grading.CallTimeout,
		},
		Quadrant: services.QuadrantThresholds{
			Score:       cfg.Grading.ScoreThreshold,
			TimeMinutes: cfg.Grading.TimeThreshold,
		},
		AtRisk: services.AtRiskThresholds{
			ScoreCutoff:     cfg.Grading.AtRiskScoreCutoff,
			LowScoreCount:   cfg.Grading.AtRiskLowScoreCount,
			IncompleteCount: cfg.Grading.AtRiskIncompleteCount,
		},
	}
	serviceManager := services.NewServiceManager(db, repo, slogLogger, v, cacheManager, evaluator, eventPublisher, serviceConfig)

	ctx := context.Background()
	if err := serviceManager.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(serviceManager, v, logger, cfg.Casdoor, repo.User())

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down evaluation service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := serviceManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Service manager shutdown failed", "error", err)
	}
	if err := repoManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Repository shutdown failed", "error", err)
	}

	logger.Info("Evaluation service stopped")
}
