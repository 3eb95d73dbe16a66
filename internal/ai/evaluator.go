// Package ai adapts external text-evaluation backends behind the
// TextEvaluator capability interface so grading logic never depends on a
// concrete vendor SDK.
package ai

import (
	"context"
)

// EvaluationRequest carries everything the backend needs to grade one
// free-text answer.
type EvaluationRequest struct {
	QuestionText  string  `json:"question_text"`
	ModelAnswer   string  `json:"model_answer"`
	StudentAnswer string  `json:"student_answer"`
	MaxScore      float64 `json:"max_score"`
}

// EvaluationResponse is the graded outcome. Score is in answer marks, not
// a percentage, and callers must treat out-of-range values as backend bugs
// to clamp.
type EvaluationResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
	Model    string  `json:"model,omitempty"`
}

// TextEvaluator grades a student's free-text answer against a model answer.
// Implementations must honor ctx cancellation; retries and idempotency are
// the caller's concern.
type TextEvaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResponse, error)
}
