package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/ai"
	"github.com/classmetrics/evaluation-service/internal/cache"
	"github.com/classmetrics/evaluation-service/internal/events"
	"github.com/classmetrics/evaluation-service/internal/repositories"
	"github.com/classmetrics/evaluation-service/internal/validator"
)

// ServiceManager wires and owns all service instances.
type ServiceManager interface {
	Evaluation() EvaluationService
	Statistics() StatisticsService
	Analytics() AnalyticsService
	Attempt() AttemptService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceManagerConfig carries the evaluation and analytics tunables.
type ServiceManagerConfig struct {
	Grader   OpenEndedGraderConfig
	Quadrant QuadrantThresholds
	AtRisk   AtRiskThresholds
}

// DefaultServiceManagerConfig returns the production defaults.
func DefaultServiceManagerConfig() ServiceManagerConfig {
	return ServiceManagerConfig{
		Grader:   DefaultGraderConfig(),
		Quadrant: DefaultQuadrantThresholds(),
		AtRisk:   DefaultAtRiskThresholds(),
	}
}

type serviceManager struct {
	// Dependencies
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	cacheManager   *cache.CacheManager
	evaluator      ai.TextEvaluator
	eventPublisher events.EventPublisher
	config         ServiceManagerConfig

	// Service instances
	evaluationService EvaluationService
	statisticsService StatisticsService
	analyticsService  AnalyticsService
	attemptService    AttemptService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	cacheManager *cache.CacheManager,
	evaluator ai.TextEvaluator,
	eventPublisher events.EventPublisher,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      v,
		cacheManager:   cacheManager,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
		config:         config,
	}
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	grader := NewOpenEndedGrader(sm.evaluator, sm.repo, sm.logger, sm.config.Grader)

	sm.statisticsService = NewStatisticsService(sm.db, sm.repo, sm.logger, sm.cacheManager)
	sm.logger.Info("Statistics service initialized")

	sm.evaluationService = NewEvaluationService(
		sm.db, sm.repo, sm.logger, sm.validator, grader, sm.statisticsService, sm.eventPublisher)
	sm.logger.Info("Evaluation service initialized")

	sm.analyticsService = NewAnalyticsService(
		sm.db, sm.repo, sm.logger, sm.cacheManager, sm.config.Quadrant, sm.config.AtRisk)
	sm.logger.Info("Analytics service initialized")

	sm.attemptService = NewAttemptService(
		sm.db, sm.repo, sm.logger, sm.validator, sm.evaluationService, sm.statisticsService)
	sm.logger.Info("Attempt service initialized")

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters

func (sm *serviceManager) Evaluation() EvaluationService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.evaluationService
}

func (sm *serviceManager) Statistics() StatisticsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.statisticsService
}

func (sm *serviceManager) Analytics() AnalyticsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.analyticsService
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.attemptService
}

func (sm *serviceManager) mustBeInitialized() {
	if !sm.initialized {
		panic("service manager not initialized")
	}
}

// HealthCheck verifies the repository and cache are reachable.
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	return sm.repo.Ping(ctx)
}

// Shutdown releases held resources. Services themselves are stateless; only
// the event publisher holds connections.
func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.eventPublisher != nil {
		if err := sm.eventPublisher.Close(); err != nil {
			sm.logger.Error("failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	return nil
}
