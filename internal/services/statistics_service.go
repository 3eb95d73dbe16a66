package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/cache"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

type statisticsService struct {
	db           *gorm.DB
	repo         repositories.Repository
	logger       *slog.Logger
	cacheManager *cache.CacheManager
}

func NewStatisticsService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, cacheManager *cache.CacheManager) StatisticsService {
	return &statisticsService{
		db:           db,
		repo:         repo,
		logger:       logger,
		cacheManager: cacheManager,
	}
}

// Aggregate folds answers into the per-attempt counts. It is pure: order
// of answers does not matter, and questions without a matching answer
// count as skipped, same as blank answers. The second return value is the
// number of answered questions still awaiting external grading; the four
// counts sum to TotalQuestions exactly when it is zero.
func (s *statisticsService) Aggregate(questions []*models.Question, answers []*models.StudentAnswer) (*models.ExamStatistics, int) {
	byQuestion := make(map[uint]*models.StudentAnswer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	stats := &models.ExamStatistics{
		TotalQuestions: len(questions),
	}
	pending := 0

	for _, question := range questions {
		answer := byQuestion[question.ID]

		// Blank or missing answers are skipped regardless of any stored
		// score or correctness.
		if answer == nil || answer.IsBlank() {
			stats.SkippedCount++
			continue
		}

		if !answer.IsEvaluatedFor(answer.AnswerText) {
			pending++
			continue
		}

		switch answer.IsCorrect {
		case models.CorrectnessCorrect:
			stats.CorrectCount++
		case models.CorrectnessPartial:
			// Guard the enum against a score that contradicts it.
			switch {
			case answer.Score >= question.Marks && question.Marks > 0:
				stats.CorrectCount++
			case answer.Score > 0:
				stats.PartiallyCorrectCount++
			default:
				stats.IncorrectCount++
			}
		default:
			stats.IncorrectCount++
		}
	}

	return stats, pending
}

// Recompute loads the attempt fresh, aggregates, and upserts the row.
// While any answer is pending it returns ErrEvaluationPending and writes
// nothing: a partial aggregate must never replace a final one.
func (s *statisticsService) Recompute(ctx context.Context, attemptID uint) (*models.ExamStatistics, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	questions := make([]*models.Question, 0, len(attempt.Answers))
	answers := make([]*models.StudentAnswer, 0, len(attempt.Answers))
	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		if answer.Question == nil {
			continue
		}
		questions = append(questions, answer.Question)
		answers = append(answers, answer)
	}

	stats, pending := s.Aggregate(questions, answers)
	if pending > 0 {
		s.logger.DebugContext(ctx, "statistics recompute deferred",
			"attempt_id", attemptID,
			"pending", pending)
		return nil, ErrEvaluationPending
	}

	stats.AttemptID = attemptID
	if err := s.repo.Statistics().Upsert(ctx, nil, stats); err != nil {
		return nil, fmt.Errorf("failed to upsert statistics: %w", err)
	}

	if s.cacheManager != nil {
		s.cacheManager.InvalidateAttempt(ctx, attempt.ID, attempt.ExamID, attempt.StudentID)
	}

	s.logger.InfoContext(ctx, "statistics recomputed",
		"attempt_id", attemptID,
		"correct", stats.CorrectCount,
		"incorrect", stats.IncorrectCount,
		"partial", stats.PartiallyCorrectCount,
		"skipped", stats.SkippedCount)

	return stats, nil
}

// GetByAttempt reads the persisted aggregate, cache-aside.
func (s *statisticsService) GetByAttempt(ctx context.Context, attemptID uint) (*models.ExamStatistics, error) {
	var stats models.ExamStatistics
	key := fmt.Sprintf("attempt:%d", attemptID)

	err := s.cacheManager.Statistics.CacheOrExecute(ctx, key, &stats, cache.StatisticsCacheConfig.TTL, func() (interface{}, error) {
		dbStats, err := s.repo.Statistics().GetByAttempt(ctx, nil, attemptID)
		if err != nil {
			return nil, err
		}
		return dbStats, nil
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	return &stats, nil
}
