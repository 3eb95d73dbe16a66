package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classmetrics/evaluation-service/internal/export"
	"github.com/classmetrics/evaluation-service/internal/services"
	"github.com/classmetrics/evaluation-service/internal/utils"
)

type AnalyticsHandler struct {
	BaseHandler
	analyticsService services.AnalyticsService
}

func NewAnalyticsHandler(analyticsService services.AnalyticsService, logger utils.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		BaseHandler:      NewBaseHandler(logger),
		analyticsService: analyticsService,
	}
}

// GetHeatMap returns the student/exam performance matrix
// @Summary Get performance heat-map
// @Description Returns one cell per student-exam pair, most recent submission wins
// @Tags analytics
// @Produce json
// @Param exam_ids query string false "Comma-separated exam IDs"
// @Param student_ids query string false "Comma-separated student IDs"
// @Success 200 {array} services.HeatMapCell
// @Router /analytics/heatmap [get]
func (h *AnalyticsHandler) GetHeatMap(c *gin.Context) {
	examIDs := parseUintListQuery(c, "exam_ids")
	studentIDs := parseStringListQuery(c, "student_ids")

	h.LogRequest(c, "Getting heat-map", "exams", len(examIDs), "students", len(studentIDs))

	cells, err := h.analyticsService.GetHeatMap(c.Request.Context(), examIDs, studentIDs)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, cells)
}

// GetInterventionMatrix returns the score/time quadrant placement per student
// @Summary Get intervention matrix
// @Description Classifies each student of an exam into a score/time quadrant
// @Tags analytics
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {array} services.StudentQuadrant
// @Router /analytics/exams/{id}/quadrants [get]
func (h *AnalyticsHandler) GetInterventionMatrix(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting intervention matrix", "exam_id", id)

	matrix, err := h.analyticsService.GetInterventionMatrix(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, matrix)
}

// GetStudentTrend returns a student's performance series over time
// @Summary Get student trend
// @Tags analytics
// @Produce json
// @Param student_id path string true "Student ID"
// @Param exam_ids query string false "Comma-separated exam IDs"
// @Success 200 {array} services.TrendPoint
// @Router /analytics/students/{student_id}/trend [get]
func (h *AnalyticsHandler) GetStudentTrend(c *gin.Context) {
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid student_id parameter",
		})
		return
	}

	h.LogRequest(c, "Getting student trend", "student_id", studentID)

	points, err := h.analyticsService.GetStudentTrend(c.Request.Context(), studentID, parseUintListQuery(c, "exam_ids"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, points)
}

// GetAtRiskStudents returns students flagged for intervention
// @Summary Get at-risk students
// @Description Flags students with repeated low scores or incomplete attempts
// @Tags analytics
// @Produce json
// @Param exam_ids query string false "Comma-separated exam IDs"
// @Success 200 {array} services.AtRiskStudent
// @Router /analytics/at-risk [get]
func (h *AnalyticsHandler) GetAtRiskStudents(c *gin.Context) {
	examIDs := parseUintListQuery(c, "exam_ids")

	h.LogRequest(c, "Identifying at-risk students", "exams", len(examIDs))

	students, err := h.analyticsService.IdentifyAtRiskStudents(c.Request.Context(), examIDs)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, students)
}

// GetExamGradeSummary returns the class-wide grade overview of one exam
// @Summary Get exam grade summary
// @Tags analytics
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ExamGradeSummary
// @Router /analytics/exams/{id}/summary [get]
func (h *AnalyticsHandler) GetExamGradeSummary(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting exam grade summary", "exam_id", id)

	summary, err := h.analyticsService.GetExamGradeSummary(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// DownloadGradebook streams the exam gradebook as an xlsx workbook
// @Summary Download gradebook
// @Description Streams one exam's results as an Excel workbook
// @Tags analytics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Exam ID"
// @Success 200
// @Router /analytics/exams/{id}/gradebook [get]
func (h *AnalyticsHandler) DownloadGradebook(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting gradebook", "exam_id", id)

	summary, err := h.analyticsService.GetExamGradeSummary(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	cells, err := h.analyticsService.GetHeatMap(c.Request.Context(), []uint{id}, nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	workbook, err := export.BuildGradebook(summary.ExamTitle, cells)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("gradebook-exam-%d.xlsx", id)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := workbook.Write(c.Writer); err != nil {
		h.LogError(c, err, "Failed to stream gradebook")
	}
}

// ===== QUERY HELPERS =====

func parseUintListQuery(c *gin.Context, name string) []uint {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids
}

func parseStringListQuery(c *gin.Context, name string) []string {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
