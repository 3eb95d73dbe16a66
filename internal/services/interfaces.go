package services

import (
	"context"
	"time"

	"github.com/classmetrics/evaluation-service/internal/grades"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

// ===== EVALUATION DTOs =====

// EvaluationResult is the outcome of evaluating one answer against its
// question.
type EvaluationResult struct {
	AnswerID   uint    `json:"answer_id"`
	QuestionID uint    `json:"question_id"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`

	Correctness models.Correctness `json:"correctness"`
	Feedback    *string            `json:"feedback,omitempty"`

	// Pending means the answer needs external grading; Score and
	// Correctness are not authoritative while set.
	Pending bool `json:"pending,omitempty"`

	// Diagnostic is set when the question definition was malformed and
	// evaluation degraded to incorrect instead of failing the attempt.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// AttemptEvaluationResult summarizes one full evaluation pass over an attempt.
type AttemptEvaluationResult struct {
	AttemptID uint   `json:"attempt_id"`
	ExamID    uint   `json:"exam_id"`
	StudentID string `json:"student_id"`

	TotalScore float64 `json:"total_score"`
	MaxScore   float64 `json:"max_score"`
	Percentage float64 `json:"percentage"`
	Grade      string  `json:"grade"`

	PendingAnswers int  `json:"pending_answers"`
	NeedsReview    bool `json:"needs_review"`

	Statistics *models.ExamStatistics `json:"statistics,omitempty"`
	Answers    []EvaluationResult     `json:"answers"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ===== ATTEMPT DTOs =====

// SubmittedAnswer is one answer in a submission request. Questions the
// student skipped may be omitted entirely or sent with empty text.
type SubmittedAnswer struct {
	QuestionID uint   `json:"question_id" validate:"required"`
	AnswerText string `json:"answer_text"`
}

// SubmitAttemptRequest finalizes an in-progress attempt.
type SubmitAttemptRequest struct {
	AttemptID uint              `json:"attempt_id" validate:"required"`
	TimeSpent int               `json:"time_spent" validate:"gte=0"`
	Answers   []SubmittedAnswer `json:"answers"`
}

// StartAttemptRequest opens a new attempt on an exam.
type StartAttemptRequest struct {
	ExamID uint `json:"exam_id" validate:"required"`
}

// QuestionResult is the per-question view in a results review.
type QuestionResult struct {
	QuestionID   uint                `json:"question_id"`
	QuestionText string              `json:"question_text"`
	QuestionType models.QuestionType `json:"question_type"`
	AnswerText   string              `json:"answer_text"`
	Score        float64             `json:"score"`
	MaxScore     float64             `json:"max_score"`
	Correctness  models.Correctness  `json:"correctness"`
	Feedback     *string             `json:"feedback,omitempty"`
	Pending      bool                `json:"pending,omitempty"`
}

// AttemptResultsResponse is the full results-review payload for one attempt.
type AttemptResultsResponse struct {
	AttemptID   uint       `json:"attempt_id"`
	ExamID      uint       `json:"exam_id"`
	ExamTitle   string     `json:"exam_title"`
	StudentID   string     `json:"student_id"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	TimeSpent   int        `json:"time_spent"`

	TotalScore  float64 `json:"total_score"`
	MaxScore    float64 `json:"max_score"`
	Percentage  float64 `json:"percentage"`
	Grade       string  `json:"grade"`
	NeedsReview bool    `json:"needs_review"`

	Statistics *models.ExamStatistics `json:"statistics,omitempty"`
	Questions  []QuestionResult       `json:"questions"`
}

// ===== ANALYTICS DTOs =====

// HeatMapCell is one student-exam cell. Absence of a cell means the student
// never submitted an attempt for that exam, which is distinct from a
// submitted attempt scoring zero.
type HeatMapCell struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	ExamID      uint      `json:"exam_id"`
	ExamTitle   string    `json:"exam_title,omitempty"`
	AttemptID   uint      `json:"attempt_id"`
	Score       float64   `json:"score"`
	MaxScore    float64   `json:"max_score"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submitted_at"`
	TimeSpent   int       `json:"time_spent"`
}

// Quadrant classifies a student for intervention planning.
type Quadrant string

const (
	QuadrantExcellent  Quadrant = "excellent"  // high score, high time
	QuadrantGifted     Quadrant = "gifted"     // high score, low time
	QuadrantStruggling Quadrant = "struggling" // low score, high time
	QuadrantAtRisk     Quadrant = "at_risk"    // low score, low time
)

// QuadrantThresholds splits the score/time plane. Values on the threshold
// count as high.
type QuadrantThresholds struct {
	Score       float64 `json:"score"`        // percentage
	TimeMinutes float64 `json:"time_minutes"` // average minutes per attempt
}

// StudentQuadrant places one student in the intervention matrix.
type StudentQuadrant struct {
	StudentID        string   `json:"student_id"`
	StudentName      string   `json:"student_name,omitempty"`
	AverageScore     float64  `json:"average_score"`
	AverageTimeSpent float64  `json:"average_time_spent"` // minutes
	AttemptCount     int      `json:"attempt_count"`
	Quadrant         Quadrant `json:"quadrant"`
}

// TrendPoint is one point in a student's performance series, ordered by
// submission time.
type TrendPoint struct {
	AttemptID   uint      `json:"attempt_id"`
	ExamID      uint      `json:"exam_id"`
	ExamTitle   string    `json:"exam_title,omitempty"`
	Percentage  float64   `json:"percentage"`
	Grade       string    `json:"grade"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AtRiskThresholds configures at-risk identification.
type AtRiskThresholds struct {
	// ScoreCutoff is the percentage under which a completed attempt counts
	// as a low score.
	ScoreCutoff float64 `json:"score_cutoff"`
	// LowScoreCount is how many low scores flag a student.
	LowScoreCount int `json:"low_score_count"`
	// IncompleteCount is how many never-submitted attempts flag a student.
	IncompleteCount int `json:"incomplete_count"`
}

// AtRiskStudent is one flagged student with the evidence and a suggested
// intervention.
type AtRiskStudent struct {
	StudentID          string  `json:"student_id"`
	StudentName        string  `json:"student_name,omitempty"`
	LowScores          int     `json:"low_scores"`
	IncompleteAttempts int     `json:"incomplete_attempts"`
	AverageScore       float64 `json:"average_score"`
	Recommendation     string  `json:"recommendation"`
}

// ExamGradeSummary is the class-wide grade overview of one exam.
type ExamGradeSummary struct {
	ExamID       uint                `json:"exam_id"`
	ExamTitle    string              `json:"exam_title"`
	AttemptCount int                 `json:"attempt_count"`
	Average      float64             `json:"average"`
	Median       float64             `json:"median"`
	Distribution grades.Distribution `json:"distribution"`
}

// ===== SERVICE INTERFACES =====

// EvaluationService scores answers and orchestrates full attempt evaluation.
type EvaluationService interface {
	// EvaluateAnswer scores one answer against its question without side
	// effects. Pure over its inputs; external grading is only flagged, not
	// performed.
	EvaluateAnswer(question *models.Question, answer *models.StudentAnswer) *EvaluationResult

	// EvaluateAttempt runs a full evaluation pass: local scoring, external
	// grading of open-ended answers, score rollup, statistics upsert, and
	// event publication. Safe to call repeatedly.
	EvaluateAttempt(ctx context.Context, attemptID uint) (*AttemptEvaluationResult, error)

	// ReEvaluateExam re-runs evaluation for every submitted attempt of an
	// exam, e.g. after a question correction.
	ReEvaluateExam(ctx context.Context, examID uint) ([]*AttemptEvaluationResult, error)
}

// StatisticsService maintains the per-attempt aggregate counts.
type StatisticsService interface {
	// Aggregate folds answers into counts without touching storage. The
	// second return is the number of answered questions still awaiting
	// external grading; the four counts sum to TotalQuestions only when it
	// is zero.
	Aggregate(questions []*models.Question, answers []*models.StudentAnswer) (*models.ExamStatistics, int)

	// Recompute loads the attempt, aggregates, and upserts the statistics
	// row. Returns ErrEvaluationPending without writing when any answer
	// still awaits grading.
	Recompute(ctx context.Context, attemptID uint) (*models.ExamStatistics, error)

	GetByAttempt(ctx context.Context, attemptID uint) (*models.ExamStatistics, error)
}

// AnalyticsService derives class-wide views from committed attempt data.
// All reads are snapshot-consistent per call; concurrent evaluations land
// in the next request.
type AnalyticsService interface {
	// BuildHeatMap folds attempts into cells, one per (student, exam),
	// keeping the most recent submission and breaking timestamp ties by
	// higher attempt ID.
	BuildHeatMap(attempts []*models.ExamAttempt) []HeatMapCell
	GetHeatMap(ctx context.Context, examIDs []uint, studentIDs []string) ([]HeatMapCell, error)

	ClassifyQuadrant(averageScore, averageTimeMinutes float64) Quadrant
	GetInterventionMatrix(ctx context.Context, examID uint) ([]StudentQuadrant, error)

	// BuildTrendSeries orders attempts by submission time, attempt ID as
	// tie-break.
	BuildTrendSeries(attempts []*models.ExamAttempt) []TrendPoint
	GetStudentTrend(ctx context.Context, studentID string, examIDs []uint) ([]TrendPoint, error)

	IdentifyAtRiskStudents(ctx context.Context, examIDs []uint) ([]AtRiskStudent, error)

	GetExamGradeSummary(ctx context.Context, examID uint) (*ExamGradeSummary, error)
}

// AttemptService owns the attempt lifecycle from start to results review.
type AttemptService interface {
	Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*models.ExamAttempt, error)

	// Submit finalizes the attempt, materializes one answer row per exam
	// question, and triggers evaluation.
	Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptEvaluationResult, error)

	GetResults(ctx context.Context, attemptID uint, requesterID string) (*AttemptResultsResponse, error)
	GetByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error)
}
