package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AttemptStatus represents the lifecycle state of an exam attempt
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

// Correctness is the evaluation outcome of one answer. Pending is the zero
// state: the answer has not been evaluated yet, or external grading has not
// succeeded.
type Correctness string

const (
	CorrectnessPending   Correctness = "pending"
	CorrectnessCorrect   Correctness = "correct"
	CorrectnessIncorrect Correctness = "incorrect"
	CorrectnessPartial   Correctness = "partial"
)

// CorrectnessFromScore maps an awarded score against the question marks.
func CorrectnessFromScore(score, marks float64) Correctness {
	switch {
	case marks > 0 && score >= marks:
		return CorrectnessCorrect
	case score > 0:
		return CorrectnessPartial
	default:
		return CorrectnessIncorrect
	}
}

// ExamAttempt is one student's run through an exam.
type ExamAttempt struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	ExamID        uint          `json:"exam_id" gorm:"not null;index:idx_attempt_exam_student"`
	StudentID     string        `json:"student_id" gorm:"not null;size:100;index:idx_attempt_exam_student"`
	Status        AttemptStatus `json:"status" gorm:"not null;size:20;default:in_progress"`
	AttemptNumber int           `json:"attempt_number" gorm:"not null;default:1"`

	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	// TimeSpent in seconds, reported at submission.
	TimeSpent int `json:"time_spent" gorm:"default:0"`

	// TotalScore is the sum of evaluated answer scores. Recomputed on every
	// evaluation pass, never incremented.
	TotalScore float64 `json:"total_score" gorm:"default:0"`

	// NeedsReview marks attempts whose open-ended answers exhausted AI
	// grading retries and await manual attention.
	NeedsReview bool `json:"needs_review" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Exam       *Exam           `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
	Answers    []StudentAnswer `json:"answers,omitempty" gorm:"foreignKey:AttemptID;constraint:OnDelete:CASCADE"`
	Statistics *ExamStatistics `json:"statistics,omitempty" gorm:"foreignKey:AttemptID"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}

// StudentAnswer is one answer within an attempt, at most one per question.
type StudentAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`

	AnswerText string `json:"answer_text" gorm:"type:text"`

	Score      float64     `json:"score" gorm:"default:0"`
	IsCorrect  Correctness `json:"is_correct" gorm:"not null;size:20;default:pending"`

	// EvaluatedAt is set on every successful evaluation, local or external.
	// NULL means the stored score and correctness are not authoritative.
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`

	// EvaluatedText records the exact answer text that was graded. External
	// grading is skipped while it matches AnswerText (idempotency token).
	EvaluatedText *string `json:"-" gorm:"type:text"`

	// AIEvaluation holds the grader feedback payload for externally graded
	// answers (AIEvaluationPayload as JSONB).
	AIEvaluation datatypes.JSON `json:"ai_evaluation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Attempt  *ExamAttempt `json:"attempt,omitempty" gorm:"foreignKey:AttemptID"`
	Question *Question    `json:"question,omitempty" gorm:"foreignKey:QuestionID"`
}

func (StudentAnswer) TableName() string {
	return "student_answers"
}

// IsBlank reports whether the answer carries no gradable content.
func (a *StudentAnswer) IsBlank() bool {
	return strings.TrimSpace(a.AnswerText) == ""
}

// IsEvaluatedFor reports whether this answer was already evaluated for its
// current text, making re-evaluation a no-op.
func (a *StudentAnswer) IsEvaluatedFor(text string) bool {
	return a.EvaluatedAt != nil && a.EvaluatedText != nil && *a.EvaluatedText == text
}

// AIEvaluationPayload is the JSONB document stored per externally graded answer.
type AIEvaluationPayload struct {
	Feedback string    `json:"feedback"`
	Model    string    `json:"model,omitempty"`
	GradedAt time.Time `json:"graded_at"`
}

// ExamStatistics is the per-attempt aggregate, one row per attempt (upsert
// on attempt_id). The four counts always sum to TotalQuestions.
type ExamStatistics struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AttemptID uint `json:"attempt_id" gorm:"not null;uniqueIndex"`

	CorrectCount          int `json:"correct_count" gorm:"not null;default:0"`
	IncorrectCount        int `json:"incorrect_count" gorm:"not null;default:0"`
	PartiallyCorrectCount int `json:"partially_correct_count" gorm:"not null;default:0"`
	SkippedCount          int `json:"skipped_count" gorm:"not null;default:0"`
	TotalQuestions        int `json:"total_questions" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExamStatistics) TableName() string {
	return "exam_statistics"
}
