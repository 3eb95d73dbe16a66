package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
	"github.com/classmetrics/evaluation-service/internal/services"
	"github.com/classmetrics/evaluation-service/internal/utils"
	"github.com/classmetrics/evaluation-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService    services.AttemptService
	evaluationService services.EvaluationService
	statisticsService services.StatisticsService
	validator         *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	evaluationService services.EvaluationService,
	statisticsService services.StatisticsService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:       NewBaseHandler(logger),
		attemptService:    attemptService,
		evaluationService: evaluationService,
		statisticsService: statisticsService,
		validator:         validator,
	}
}

// StartAttempt starts a new exam attempt
// @Summary Start exam attempt
// @Description Starts a new attempt for an active exam
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Start attempt data"
// @Success 201 {object} models.ExamAttempt
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting exam attempt")

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// SubmitAttempt submits an exam attempt and evaluates it
// @Summary Submit exam attempt
// @Description Submits an attempt with all answers and returns the evaluation
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.SubmitAttemptRequest true "Submit attempt data"
// @Success 200 {object} services.AttemptEvaluationResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	h.LogRequest(c, "Submitting exam attempt")

	var req services.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAttemptResults returns the per-question review for an attempt
// @Summary Get attempt results
// @Description Returns the full results review including pending answers
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResultsResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/results [get]
func (h *AttemptHandler) GetAttemptResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting attempt results", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	results, err := h.attemptService.GetResults(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// EvaluateAttempt re-runs evaluation for one attempt
// @Summary Evaluate attempt
// @Description Re-runs the full evaluation pass for a submitted attempt
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptEvaluationResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/evaluate [post]
func (h *AttemptHandler) EvaluateAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Evaluating attempt", "attempt_id", id)

	result, err := h.evaluationService.EvaluateAttempt(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAttemptStatistics returns the aggregated counts for one attempt
// @Summary Get attempt statistics
// @Description Returns the correct/incorrect/partial/skipped counts
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} models.ExamStatistics
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/statistics [get]
func (h *AttemptHandler) GetAttemptStatistics(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting attempt statistics", "attempt_id", id)

	stats, err := h.statisticsService.GetByAttempt(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ReEvaluateExam re-runs evaluation for every submitted attempt of an exam
// @Summary Re-evaluate exam
// @Description Re-runs evaluation for all submitted attempts, e.g. after a question correction
// @Tags attempts
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/re-evaluate [post]
func (h *AttemptHandler) ReEvaluateExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Re-evaluating exam", "exam_id", id)

	results, err := h.evaluationService.ReEvaluateExam(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Exam re-evaluated",
		Data:    results,
	})
}

// GetMyAttempts lists the authenticated student's attempts
// @Summary List my attempts
// @Description Lists the authenticated student's attempts, newest first
// @Tags attempts
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /students/me/attempts [get]
func (h *AttemptHandler) GetMyAttempts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Listing own attempts", "student_id", userID)

	filters := parseAttemptFilters(c)
	attempts, total, err := h.attemptService.GetByStudent(c.Request.Context(), userID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"total":    total,
	})
}

// GetAttemptsByStudent lists one student's attempts (teachers only)
// @Summary List attempts by student
// @Tags attempts
// @Produce json
// @Param student_id path string true "Student ID"
// @Success 200 {object} SuccessResponse
// @Router /attempts/student/{student_id} [get]
func (h *AttemptHandler) GetAttemptsByStudent(c *gin.Context) {
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid student_id parameter",
		})
		return
	}

	h.LogRequest(c, "Listing student attempts", "student_id", studentID)

	filters := parseAttemptFilters(c)
	attempts, total, err := h.attemptService.GetByStudent(c.Request.Context(), studentID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"total":    total,
	})
}

func parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	filters := repositories.AttemptFilters{
		ExamIDs: parseUintListQuery(c, "exam_ids"),
	}
	if status := c.Query("status"); status != "" {
		s := models.AttemptStatus(status)
		filters.Status = &s
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && limit > 0 {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && offset >= 0 {
		filters.Offset = offset
	}
	return filters
}
