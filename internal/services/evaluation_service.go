package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/events"
	"github.com/classmetrics/evaluation-service/internal/grades"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
	"github.com/classmetrics/evaluation-service/internal/validator"
)

type evaluationService struct {
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	grader         *OpenEndedGrader
	statistics     StatisticsService
	eventPublisher events.EventPublisher
}

func NewEvaluationService(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	grader *OpenEndedGrader,
	statistics StatisticsService,
	eventPublisher events.EventPublisher,
) EvaluationService {
	return &evaluationService{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      v,
		grader:         grader,
		statistics:     statistics,
		eventPublisher: eventPublisher,
	}
}

// ===== ANSWER EVALUATION =====

// EvaluateAnswer scores one answer. Multiple-choice and fill-in-blank are
// decided here; open-ended answers (and near-miss fill-in-blank answers on
// partial-credit questions) come back with Pending set for the grader.
// Malformed question definitions degrade to incorrect with a diagnostic
// rather than failing the whole attempt.
func (s *evaluationService) EvaluateAnswer(question *models.Question, answer *models.StudentAnswer) *EvaluationResult {
	result := &EvaluationResult{
		AnswerID:    answer.ID,
		QuestionID:  question.ID,
		MaxScore:    question.Marks,
		Correctness: models.CorrectnessIncorrect,
	}

	// Blank answers are never graded. Statistics count them as skipped.
	if answer.IsBlank() {
		return result
	}

	// An ungradable question definition must not fail the whole attempt;
	// the answer scores zero and the broken rule is surfaced.
	if errs := s.validator.ValidateQuestionDefinition(question); errs.HasErrors() {
		result.Diagnostic = errs.Error()
		return result
	}

	switch question.Type {
	case models.MultipleChoice:
		s.evaluateMultipleChoice(question, answer.AnswerText, result)

	case models.FillInBlank:
		s.evaluateFillInBlank(question, answer.AnswerText, result)

	case models.OpenEnded:
		result.Pending = true
		result.Correctness = models.CorrectnessPending

	default:
		result.Diagnostic = fmt.Sprintf("unsupported question type %q", question.Type)
	}

	return result
}

// ===== ATTEMPT EVALUATION =====

// EvaluateAttempt runs a full evaluation pass over one submitted attempt.
// Local scoring is recomputed and written back on every pass, so a
// corrected answer key takes effect the next time the attempt is
// evaluated. Open-ended answers fan out to the grader concurrently; the
// grader reuses its stored outcome while the answer text is unchanged.
func (s *evaluationService) EvaluateAttempt(ctx context.Context, attemptID uint) (*AttemptEvaluationResult, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	if attempt.Status != models.AttemptCompleted || attempt.SubmittedAt == nil {
		return nil, ErrAttemptNotSubmitted
	}

	s.logger.InfoContext(ctx, "evaluating attempt",
		"attempt_id", attempt.ID,
		"exam_id", attempt.ExamID,
		"student_id", attempt.StudentID,
		"answers", len(attempt.Answers))

	now := time.Now()
	results := make([]EvaluationResult, 0, len(attempt.Answers))
	var external []*models.StudentAnswer

	// Local pass: mcq and fib decided here, the rest queued for the grader.
	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		if answer.Question == nil {
			s.logger.WarnContext(ctx, "answer without question, skipping",
				"answer_id", answer.ID)
			continue
		}

		res := s.EvaluateAnswer(answer.Question, answer)
		if res.Pending {
			external = append(external, answer)
			continue
		}

		// Local scoring is pure and cheap, so the row is always rewritten.
		// This is what lets ReEvaluateExam propagate answer-key corrections
		// to answers whose text never changed.
		eval := repositories.AnswerEvaluation{
			AttemptID:     attempt.ID,
			QuestionID:    answer.QuestionID,
			Score:         res.Score,
			Correctness:   res.Correctness,
			EvaluatedAt:   now,
			EvaluatedText: answer.AnswerText,
		}
		if err := s.repo.Answer().ApplyEvaluation(ctx, nil, eval); err != nil {
			return nil, fmt.Errorf("failed to store evaluation for question %d: %w", answer.QuestionID, err)
		}
		applyToAnswer(answer, eval)
		results = append(results, *res)
	}

	// External pass: fan out open-ended grading, one call per answer.
	pendingAnswers := 0
	if len(external) > 0 {
		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, answer := range external {
			wg.Add(1)
			go func(answer *models.StudentAnswer) {
				defer wg.Done()

				outcome, err := s.grader.Grade(ctx, answer.Question, answer)

				mu.Lock()
				defer mu.Unlock()
				res := EvaluationResult{
					AnswerID:   answer.ID,
					QuestionID: answer.QuestionID,
					MaxScore:   answer.Question.Marks,
				}
				if err != nil {
					pendingAnswers++
					res.Pending = true
					res.Correctness = models.CorrectnessPending
					s.logger.WarnContext(ctx, "open-ended grading pending",
						"attempt_id", attempt.ID,
						"question_id", answer.QuestionID,
						"error", err)
				} else {
					answer.Score = outcome.Score
					answer.IsCorrect = outcome.Correctness
					answer.EvaluatedAt = &outcome.EvaluatedAt
					answer.EvaluatedText = &outcome.EvaluatedText
					res.Score = outcome.Score
					res.Correctness = outcome.Correctness
					if outcome.Feedback != "" {
						res.Feedback = &outcome.Feedback
					}
				}
				results = append(results, res)
			}(answer)
		}
		wg.Wait()
	}

	// Rollup: total over evaluated answers only, recomputed from scratch.
	var totalScore, maxScore float64
	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		if answer.Question == nil {
			continue
		}
		maxScore += answer.Question.Marks
		if answer.EvaluatedAt != nil {
			totalScore += answer.Score
		}
	}

	attempt.TotalScore = totalScore
	attempt.NeedsReview = pendingAnswers > 0
	if err := s.repo.Attempt().Update(ctx, nil, attempt); err != nil {
		return nil, fmt.Errorf("failed to update attempt: %w", err)
	}

	percentage := grades.Percentage(totalScore, maxScore)
	evaluation := &AttemptEvaluationResult{
		AttemptID:      attempt.ID,
		ExamID:         attempt.ExamID,
		StudentID:      attempt.StudentID,
		TotalScore:     totalScore,
		MaxScore:       maxScore,
		Percentage:     percentage,
		Grade:          grades.Letter(percentage),
		PendingAnswers: pendingAnswers,
		NeedsReview:    attempt.NeedsReview,
		Answers:        results,
		EvaluatedAt:    now,
	}

	// Statistics are only persisted once nothing is pending; a partial
	// aggregate must never overwrite a final one.
	stats, err := s.statistics.Recompute(ctx, attempt.ID)
	switch {
	case err == nil:
		evaluation.Statistics = stats
		s.publishEvaluated(ctx, evaluation)
	case err == ErrEvaluationPending:
		s.publishNeedsRegrade(ctx, attempt, pendingAnswers)
	default:
		return nil, fmt.Errorf("failed to recompute statistics: %w", err)
	}

	s.logger.InfoContext(ctx, "attempt evaluated",
		"attempt_id", attempt.ID,
		"total_score", totalScore,
		"max_score", maxScore,
		"pending_answers", pendingAnswers)

	return evaluation, nil
}

// ReEvaluateExam re-runs evaluation over every submitted attempt of one
// exam, e.g. after a question correction. Attempts are processed serially;
// the per-attempt grader fan-out already bounds external concurrency.
func (s *evaluationService) ReEvaluateExam(ctx context.Context, examID uint) ([]*AttemptEvaluationResult, error) {
	if _, err := s.repo.Exam().GetByID(ctx, nil, examID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	attempts, err := s.repo.Attempt().GetCompleted(ctx, nil, repositories.AttemptFilters{
		ExamIDs: []uint{examID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load exam attempts: %w", err)
	}

	s.logger.InfoContext(ctx, "re-evaluating exam",
		"exam_id", examID,
		"attempts", len(attempts))

	evaluations := make([]*AttemptEvaluationResult, 0, len(attempts))
	for _, attempt := range attempts {
		evaluation, err := s.EvaluateAttempt(ctx, attempt.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "attempt re-evaluation failed",
				"attempt_id", attempt.ID,
				"error", err)
			continue
		}
		evaluations = append(evaluations, evaluation)
	}

	return evaluations, nil
}

// ===== EVENTS =====

func (s *evaluationService) publishEvaluated(ctx context.Context, evaluation *AttemptEvaluationResult) {
	if s.eventPublisher == nil {
		return
	}
	event := events.NewEvent(events.TypeAttemptEvaluated, events.AttemptEvaluatedEvent{
		AttemptID:  evaluation.AttemptID,
		ExamID:     evaluation.ExamID,
		StudentID:  evaluation.StudentID,
		TotalScore: evaluation.TotalScore,
		MaxScore:   evaluation.MaxScore,
		Percentage: evaluation.Percentage,
		Grade:      evaluation.Grade,
	})
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish evaluation event",
			"attempt_id", evaluation.AttemptID,
			"error", err)
	}
}

func (s *evaluationService) publishNeedsRegrade(ctx context.Context, attempt *models.ExamAttempt, pendingAnswers int) {
	if s.eventPublisher == nil {
		return
	}
	event := events.NewEvent(events.TypeAttemptNeedsRegrade, events.AttemptNeedsRegradeEvent{
		AttemptID:      attempt.ID,
		ExamID:         attempt.ExamID,
		StudentID:      attempt.StudentID,
		PendingAnswers: pendingAnswers,
	})
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish regrade event",
			"attempt_id", attempt.ID,
			"error", err)
	}
}
