package models

import (
	"time"
)

// ExamStatus represents the lifecycle state of an exam
type ExamStatus string

const (
	ExamStatusDraft    ExamStatus = "draft"
	ExamStatusActive   ExamStatus = "active"
	ExamStatusArchived ExamStatus = "archived"
)

// Exam groups questions that attempts are evaluated against.
type Exam struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Title       string     `json:"title" gorm:"not null;size:255" validate:"required,min=1,max=255"`
	Description *string    `json:"description,omitempty" gorm:"type:text"`
	Status      ExamStatus `json:"status" gorm:"not null;size:20;default:draft"`

	// TotalMarks is the sum of the marks of all questions, maintained when
	// questions change so evaluation does not need to re-sum on every read.
	TotalMarks float64 `json:"total_marks" gorm:"not null;default:0"`

	// Duration in minutes, 0 means untimed.
	Duration int `json:"duration" gorm:"default:0"`

	CreatedBy string    `json:"created_by" gorm:"not null;size:100;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Questions []Question    `json:"questions,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
	Attempts  []ExamAttempt `json:"attempts,omitempty" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

// MaxScore returns the maximum attainable score, preferring the loaded
// questions over the persisted TotalMarks column.
func (e *Exam) MaxScore() float64 {
	if len(e.Questions) == 0 {
		return e.TotalMarks
	}
	var total float64
	for _, q := range e.Questions {
		total += q.Marks
	}
	return total
}
