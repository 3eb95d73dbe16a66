package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/classmetrics/evaluation-service/internal/ai"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

// OpenEndedGraderConfig bounds the external grading calls.
type OpenEndedGraderConfig struct {
	// MaxRetries is the number of retries after the first failed call.
	MaxRetries int
	// CallTimeout applies per call, not per answer.
	CallTimeout time.Duration
}

// DefaultGraderConfig returns the production defaults: three calls total,
// 30 seconds each.
func DefaultGraderConfig() OpenEndedGraderConfig {
	return OpenEndedGraderConfig{
		MaxRetries:  2,
		CallTimeout: 30 * time.Second,
	}
}

// GradeOutcome is one successful external grading.
type GradeOutcome struct {
	Score         float64
	Correctness   models.Correctness
	Feedback      string
	EvaluatedAt   time.Time
	EvaluatedText string
	// Cached is true when the stored evaluation was reused without an
	// external call.
	Cached bool
}

// OpenEndedGrader adapts the external text-evaluation capability for
// free-text answers. It is idempotent over (attempt, question, answer
// text): an answer already graded for its current text is never re-sent.
type OpenEndedGrader struct {
	evaluator ai.TextEvaluator
	repo      repositories.Repository
	logger    *slog.Logger
	config    OpenEndedGraderConfig
}

func NewOpenEndedGrader(evaluator ai.TextEvaluator, repo repositories.Repository, logger *slog.Logger, config OpenEndedGraderConfig) *OpenEndedGrader {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	return &OpenEndedGrader{
		evaluator: evaluator,
		repo:      repo,
		logger:    logger,
		config:    config,
	}
}

// Grade evaluates one answer, writing the outcome back scoped by attempt
// and question. Blank answers short-circuit to zero without an external
// call. On exhausted retries the stored row is left untouched: evaluated_at
// stays NULL and the answer remains pending.
func (g *OpenEndedGrader) Grade(ctx context.Context, question *models.Question, answer *models.StudentAnswer) (*GradeOutcome, error) {
	now := time.Now()

	// Blank answers are deterministic: zero marks, no backend call.
	if answer.IsBlank() {
		outcome := &GradeOutcome{
			Score:         0,
			Correctness:   models.CorrectnessIncorrect,
			EvaluatedAt:   now,
			EvaluatedText: answer.AnswerText,
		}
		if err := g.writeBack(ctx, answer.AttemptID, question.ID, outcome, nil); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	// Idempotency check against the freshest row: another evaluation pass
	// may have graded this answer since the caller loaded it.
	current, err := g.repo.Answer().GetByAttemptAndQuestion(ctx, nil, answer.AttemptID, question.ID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to reload answer: %w", err)
	}
	if current != nil && current.IsEvaluatedFor(answer.AnswerText) {
		outcome := &GradeOutcome{
			Score:         current.Score,
			Correctness:   current.IsCorrect,
			EvaluatedAt:   *current.EvaluatedAt,
			EvaluatedText: *current.EvaluatedText,
			Cached:        true,
		}
		if payload := decodePayload(current.AIEvaluation); payload != nil {
			outcome.Feedback = payload.Feedback
		}
		return outcome, nil
	}

	modelAnswer := ""
	if question.ModelAnswer != nil {
		modelAnswer = *question.ModelAnswer
	}

	req := ai.EvaluationRequest{
		QuestionText:  question.Text,
		ModelAnswer:   modelAnswer,
		StudentAnswer: answer.AnswerText,
		MaxScore:      question.Marks,
	}

	var resp *ai.EvaluationResponse
	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
		resp, lastErr = g.evaluator.Evaluate(callCtx, req)
		cancel()

		if lastErr == nil {
			break
		}
		g.logger.WarnContext(ctx, "text evaluation call failed",
			"attempt_id", answer.AttemptID,
			"question_id", question.ID,
			"try", attempt+1,
			"error", lastErr)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("grading cancelled: %w", ctx.Err())
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("text evaluation failed after %d calls: %w", g.config.MaxRetries+1, lastErr)
	}

	score := clamp(resp.Score, 0, question.Marks)
	outcome := &GradeOutcome{
		Score:         score,
		Correctness:   models.CorrectnessFromScore(score, question.Marks),
		Feedback:      resp.Feedback,
		EvaluatedAt:   now,
		EvaluatedText: answer.AnswerText,
	}

	payload := &models.AIEvaluationPayload{
		Feedback: resp.Feedback,
		Model:    resp.Model,
		GradedAt: now,
	}
	if err := g.writeBack(ctx, answer.AttemptID, question.ID, outcome, payload); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "open-ended answer graded",
		"attempt_id", answer.AttemptID,
		"question_id", question.ID,
		"score", score,
		"max_score", question.Marks)

	return outcome, nil
}

func (g *OpenEndedGrader) writeBack(ctx context.Context, attemptID, questionID uint, outcome *GradeOutcome, payload *models.AIEvaluationPayload) error {
	eval := repositories.AnswerEvaluation{
		AttemptID:     attemptID,
		QuestionID:    questionID,
		Score:         outcome.Score,
		Correctness:   outcome.Correctness,
		EvaluatedAt:   outcome.EvaluatedAt,
		EvaluatedText: outcome.EvaluatedText,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal evaluation payload: %w", err)
		}
		eval.AIEvaluation = data
	}

	if err := g.repo.Answer().ApplyEvaluation(ctx, nil, eval); err != nil {
		return fmt.Errorf("failed to store grading outcome: %w", err)
	}
	return nil
}

func decodePayload(data []byte) *models.AIEvaluationPayload {
	if len(data) == 0 {
		return nil
	}
	var payload models.AIEvaluationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	return &payload
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
