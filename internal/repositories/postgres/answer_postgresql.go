package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/cache"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AnswerPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	db := a.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(answers, 100).Error; err != nil {
		return fmt.Errorf("failed to create answers: %w", err)
	}
	return nil
}

func (a *AnswerPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
	db := a.getDB(tx)
	var answers []*models.StudentAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get attempt answers: %w", err)
	}
	return answers, nil
}

func (a *AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.StudentAnswer, error) {
	db := a.getDB(tx)
	var answer models.StudentAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &answer, nil
}

// ApplyEvaluation writes one evaluation outcome back, scoped by attempt and
// question so stale goroutines cannot clobber a newer submission's row.
func (a *AnswerPostgreSQL) ApplyEvaluation(ctx context.Context, tx *gorm.DB, eval repositories.AnswerEvaluation) error {
	db := a.getDB(tx)

	updates := map[string]interface{}{
		"score":          eval.Score,
		"is_correct":     eval.Correctness,
		"evaluated_at":   eval.EvaluatedAt,
		"evaluated_text": eval.EvaluatedText,
	}
	if eval.AIEvaluation != nil {
		updates["ai_evaluation"] = eval.AIEvaluation
	}

	result := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("attempt_id = ? AND question_id = ?", eval.AttemptID, eval.QuestionID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to apply evaluation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (a *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
