package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/classmetrics/evaluation-service/internal/config"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
	"github.com/classmetrics/evaluation-service/internal/services"
	"github.com/classmetrics/evaluation-service/internal/utils"
	"github.com/classmetrics/evaluation-service/internal/validator"
)

type HandlerManager struct {
	attemptHandler   *AttemptHandler
	analyticsHandler *AnalyticsHandler
	authMiddleware   *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		attemptHandler: NewAttemptHandler(
			serviceManager.Attempt(),
			serviceManager.Evaluation(),
			serviceManager.Statistics(),
			validator,
			logger,
		),
		analyticsHandler: NewAnalyticsHandler(serviceManager.Analytics(), logger),
		authMiddleware:   authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.POST("/submit", hm.attemptHandler.SubmitAttempt)
			attempts.GET("/:id/results", hm.attemptHandler.GetAttemptResults)
			attempts.GET("/:id/statistics", hm.attemptHandler.GetAttemptStatistics)

			// Manual evaluation pass - Teachers and Admins only
			attempts.POST("/:id/evaluate", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.attemptHandler.EvaluateAttempt)

			// Student-specific routes - Teachers and Admins only (students use /students/me/attempts)
			attempts.GET("/student/:student_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.attemptHandler.GetAttemptsByStudent)
		}

		// Exam-level evaluation - Teachers and Admins only
		exams := v1.Group("/exams")
		exams.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			exams.POST("/:id/re-evaluate", hm.attemptHandler.ReEvaluateExam)
		}

		// Analytics routes - Teachers and Admins only
		analytics := v1.Group("/analytics")
		analytics.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			analytics.GET("/heatmap", hm.analyticsHandler.GetHeatMap)
			analytics.GET("/at-risk", hm.analyticsHandler.GetAtRiskStudents)
			analytics.GET("/students/:student_id/trend", hm.analyticsHandler.GetStudentTrend)
			analytics.GET("/exams/:id/quadrants", hm.analyticsHandler.GetInterventionMatrix)
			analytics.GET("/exams/:id/summary", hm.analyticsHandler.GetExamGradeSummary)
			analytics.GET("/exams/:id/gradebook", hm.analyticsHandler.DownloadGradebook)
		}

		// Student routes - Students only
		students := v1.Group("/students")
		students.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent))
		{
			students.GET("/me/attempts", hm.attemptHandler.GetMyAttempts)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "evaluation-service",
		})
	})
}
