package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/models"
)

// ===== FILTERS =====

// AttemptFilters defines filters for attempt queries
type AttemptFilters struct {
	ExamIDs    []uint                `json:"exam_ids"`
	StudentIDs []string              `json:"student_ids"`
	Status     *models.AttemptStatus `json:"status"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
}

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string
	Limit  int
	Offset int
}

// AnswerEvaluation carries the write-back of one evaluation outcome. The
// update is scoped by attempt and question, never by bare answer ID, so a
// concurrent re-submission cannot be overwritten with stale results.
type AnswerEvaluation struct {
	AttemptID     uint               `json:"attempt_id"`
	QuestionID    uint               `json:"question_id"`
	Score         float64            `json:"score"`
	Correctness   models.Correctness `json:"correctness"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
	EvaluatedText string             `json:"evaluated_text"`
	AIEvaluation  []byte             `json:"ai_evaluation,omitempty"`
}

// ===== INTERFACES =====

// ExamRepository interface for exam read operations
type ExamRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*models.Exam, int64, error)
}

// QuestionRepository interface for question-specific operations
type QuestionRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)
	GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Question, error)
}

// AttemptRepository interface for attempt operations
type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)
	// GetByIDWithDetails preloads answers, their questions with options, and the exam.
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.ExamAttempt, int64, error)
	GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters AttemptFilters) ([]*models.ExamAttempt, int64, error)
	GetByExam(ctx context.Context, tx *gorm.DB, examID uint, filters AttemptFilters) ([]*models.ExamAttempt, int64, error)
	// GetCompleted returns submitted attempts matching the filters, answers not preloaded.
	GetCompleted(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.ExamAttempt, error)
	CountByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (int64, error)
}

// AnswerRepository interface for answer operations
type AnswerRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error)
	GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.StudentAnswer, error)

	// ApplyEvaluation persists one evaluation outcome, keyed by
	// (attempt_id, question_id).
	ApplyEvaluation(ctx context.Context, tx *gorm.DB, eval AnswerEvaluation) error
}

// StatisticsRepository interface for per-attempt aggregates
type StatisticsRepository interface {
	// Upsert inserts or replaces the row for stats.AttemptID.
	Upsert(ctx context.Context, tx *gorm.DB, stats *models.ExamStatistics) error
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.ExamStatistics, error)
	GetByAttempts(ctx context.Context, tx *gorm.DB, attemptIDs []uint) (map[uint]*models.ExamStatistics, error)
}

// UserRepository interface for user operations (read-only projection of the
// identity provider)
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
}
