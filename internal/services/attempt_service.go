package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/grades"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
	"github.com/classmetrics/evaluation-service/internal/validator"
)

type attemptService struct {
	db         *gorm.DB
	repo       repositories.Repository
	logger     *slog.Logger
	validator  *validator.Validator
	evaluation EvaluationService
	statistics StatisticsService
}

func NewAttemptService(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	evaluation EvaluationService,
	statistics StatisticsService,
) AttemptService {
	return &attemptService{
		db:         db,
		repo:       repo,
		logger:     logger,
		validator:  v,
		evaluation: evaluation,
		statistics: statistics,
	}
}

// ===== LIFECYCLE =====

// Start opens a new in-progress attempt on an active exam.
func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*models.ExamAttempt, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError("request", errs.Error(), req)
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, req.ExamID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}
	if exam.Status != models.ExamStatusActive {
		return nil, NewValidationError("exam_id", "exam is not active", exam.Status)
	}

	count, err := s.repo.Attempt().CountByExamAndStudent(ctx, nil, exam.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	attempt := &models.ExamAttempt{
		ExamID:        exam.ID,
		StudentID:     studentID,
		Status:        models.AttemptInProgress,
		AttemptNumber: int(count) + 1,
		StartedAt:     time.Now(),
	}
	if err := s.repo.Attempt().Create(ctx, nil, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.InfoContext(ctx, "attempt started",
		"attempt_id", attempt.ID,
		"exam_id", exam.ID,
		"student_id", studentID,
		"attempt_number", attempt.AttemptNumber)

	return attempt, nil
}

// Submit finalizes an attempt: exactly one answer row is materialized per
// exam question (blank text for skipped questions), the attempt flips to
// completed, and evaluation runs on the submitted snapshot.
func (s *attemptService) Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptEvaluationResult, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError("request", errs.Error(), req)
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, req.AttemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	if attempt.StudentID != studentID {
		return nil, NewPermissionError("attempt belongs to a different student")
	}
	if attempt.Status == models.AttemptCompleted {
		return nil, ErrAttemptAlreadySubmitted
	}
	if errs := s.validator.ValidateSubmission(req, attempt.Status); errs.HasErrors() {
		return nil, NewValidationError("attempt", errs.Error(), attempt.Status)
	}

	questions, err := s.repo.Question().GetByExam(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load exam questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, NewValidationError("exam_id", "exam has no questions", attempt.ExamID)
	}

	submitted := make(map[uint]string, len(req.Answers))
	for _, answer := range req.Answers {
		submitted[answer.QuestionID] = answer.AnswerText
	}

	now := time.Now()
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		answers := make([]*models.StudentAnswer, 0, len(questions))
		for _, question := range questions {
			answers = append(answers, &models.StudentAnswer{
				AttemptID:  attempt.ID,
				QuestionID: question.ID,
				AnswerText: strings.TrimSpace(submitted[question.ID]),
				IsCorrect:  models.CorrectnessPending,
			})
		}
		if err := txRepo.Answer().CreateBatch(ctx, nil, answers); err != nil {
			return err
		}

		attempt.Status = models.AttemptCompleted
		attempt.SubmittedAt = &now
		attempt.TimeSpent = req.TimeSpent
		return txRepo.Attempt().Update(ctx, nil, attempt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit attempt: %w", err)
	}

	s.logger.InfoContext(ctx, "attempt submitted",
		"attempt_id", attempt.ID,
		"exam_id", attempt.ExamID,
		"student_id", studentID,
		"answered", len(req.Answers),
		"questions", len(questions))

	return s.evaluation.EvaluateAttempt(ctx, attempt.ID)
}

// ===== RESULTS REVIEW =====

// GetResults assembles the per-question review for one attempt. Students
// may only read their own attempts; any other requester is assumed to have
// passed role middleware.
func (s *attemptService) GetResults(ctx context.Context, attemptID uint, requesterID string) (*AttemptResultsResponse, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	if requesterID != "" && requesterID != attempt.StudentID {
		user, err := s.repo.User().GetByID(ctx, requesterID)
		if err != nil || user.IsStudent() {
			return nil, NewPermissionError("not allowed to view this attempt")
		}
	}

	var maxScore float64
	results := make([]QuestionResult, 0, len(attempt.Answers))
	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		if answer.Question == nil {
			continue
		}
		question := answer.Question
		maxScore += question.Marks

		result := QuestionResult{
			QuestionID:   question.ID,
			QuestionText: question.Text,
			QuestionType: question.Type,
			AnswerText:   answer.AnswerText,
			Score:        answer.Score,
			MaxScore:     question.Marks,
			Correctness:  answer.IsCorrect,
			Pending:      !answer.IsBlank() && answer.EvaluatedAt == nil,
		}
		if payload := decodePayload(answer.AIEvaluation); payload != nil && payload.Feedback != "" {
			feedback := payload.Feedback
			result.Feedback = &feedback
		}
		results = append(results, result)
	}

	percentage := grades.Percentage(attempt.TotalScore, maxScore)
	response := &AttemptResultsResponse{
		AttemptID:   attempt.ID,
		ExamID:      attempt.ExamID,
		StudentID:   attempt.StudentID,
		SubmittedAt: attempt.SubmittedAt,
		TimeSpent:   attempt.TimeSpent,
		TotalScore:  attempt.TotalScore,
		MaxScore:    maxScore,
		Percentage:  grades.Round(percentage, 2),
		Grade:       grades.Letter(percentage),
		NeedsReview: attempt.NeedsReview,
		Statistics:  attempt.Statistics,
		Questions:   results,
	}
	if attempt.Exam != nil {
		response.ExamTitle = attempt.Exam.Title
	}

	return response, nil
}

func (s *attemptService) GetByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	attempts, total, err := s.repo.Attempt().GetByStudent(ctx, nil, studentID, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, total, nil
}
