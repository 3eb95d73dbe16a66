package models

import (
	"time"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	MultipleChoice QuestionType = "mcq"
	FillInBlank    QuestionType = "fib"
	OpenEnded      QuestionType = "open_ended"
)

// IsValid checks if the question type is supported
func (qt QuestionType) IsValid() bool {
	switch qt {
	case MultipleChoice, FillInBlank, OpenEnded:
		return true
	}
	return false
}

// RequiresExternalGrading reports whether answers of this type may need the
// AI text-evaluation backend rather than deterministic local scoring.
func (qt QuestionType) RequiresExternalGrading() bool {
	return qt == OpenEnded
}

// Question is one exam question. Marks is the maximum score an answer to
// this question can earn.
type Question struct {
	ID     uint         `json:"id" gorm:"primaryKey"`
	ExamID uint         `json:"exam_id" gorm:"not null;index"`
	Type   QuestionType `json:"type" gorm:"not null;size:20" validate:"required,question_type"`
	Text   string       `json:"text" gorm:"not null;type:text" validate:"required,min=1,max=2000"`
	Marks  float64      `json:"marks" gorm:"not null" validate:"required,gt=0"`
	Order  int          `json:"order" gorm:"column:display_order;not null;default:0"`

	// CorrectAnswer holds the canonical answer for fill-in-blank questions.
	// When empty, the first token of ModelAnswer is used as a fallback.
	CorrectAnswer *string `json:"correct_answer,omitempty" gorm:"type:text"`

	// ModelAnswer is the reference answer / rubric passed to the AI grader
	// for open-ended questions.
	ModelAnswer *string `json:"model_answer,omitempty" gorm:"type:text"`

	// AllowPartialCredit routes near-miss fill-in-blank answers to the AI
	// grader instead of scoring them zero outright.
	AllowPartialCredit bool `json:"allow_partial_credit" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Exam    *Exam            `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
	Options []QuestionOption `json:"options,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

func (Question) TableName() string {
	return "questions"
}

// QuestionOption is one selectable choice of a multiple-choice question.
// Exactly one option per question should carry IsCorrect.
type QuestionOption struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	Text       string `json:"text" gorm:"not null;type:text" validate:"required,min=1"`
	IsCorrect  bool   `json:"is_correct" gorm:"default:false"`
	Order      int    `json:"order" gorm:"column:display_order;not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QuestionOption) TableName() string {
	return "question_options"
}
