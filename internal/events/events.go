package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by the evaluation service.
const (
	TypeAttemptEvaluated    = "attempt.evaluated"
	TypeAttemptNeedsRegrade = "attempt.needs_regrade"
)

// Source identifies this service in every published event.
const Source = "evaluation-service"

// Event is the envelope shared by all published events.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an envelope with a fresh ID and timestamp.
func NewEvent(eventType string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    Source,
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AttemptEvaluatedEvent is published after an attempt is fully evaluated
// and its statistics row upserted.
type AttemptEvaluatedEvent struct {
	AttemptID  uint    `json:"attempt_id"`
	ExamID     uint    `json:"exam_id"`
	StudentID  string  `json:"student_id"`
	TotalScore float64 `json:"total_score"`
	MaxScore   float64 `json:"max_score"`
	Percentage float64 `json:"percentage"`
	Grade      string  `json:"grade"`
}

// AttemptNeedsRegradeEvent is published when open-ended answers exhausted
// their grading retries and the attempt awaits manual or later re-evaluation.
type AttemptNeedsRegradeEvent struct {
	AttemptID      uint   `json:"attempt_id"`
	ExamID         uint   `json:"exam_id"`
	StudentID      string `json:"student_id"`
	PendingAnswers int    `json:"pending_answers"`
}
