package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

type StatisticsPostgreSQL struct {
	db *gorm.DB
}

func NewStatisticsPostgreSQL(db *gorm.DB) repositories.StatisticsRepository {
	return &StatisticsPostgreSQL{db: db}
}

// Upsert replaces the aggregate row for stats.AttemptID. Counts are written
// whole, never incremented, so a recompute always converges.
func (s *StatisticsPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, stats *models.ExamStatistics) error {
	db := s.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"correct_count",
				"incorrect_count",
				"partially_correct_count",
				"skipped_count",
				"total_questions",
				"updated_at",
			}),
		}).
		Create(stats).Error
	if err != nil {
		return fmt.Errorf("failed to upsert statistics: %w", err)
	}
	return nil
}

func (s *StatisticsPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.ExamStatistics, error) {
	db := s.getDB(tx)
	var stats models.ExamStatistics
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return &stats, nil
}

func (s *StatisticsPostgreSQL) GetByAttempts(ctx context.Context, tx *gorm.DB, attemptIDs []uint) (map[uint]*models.ExamStatistics, error) {
	if len(attemptIDs) == 0 {
		return map[uint]*models.ExamStatistics{}, nil
	}
	db := s.getDB(tx)
	var rows []*models.ExamStatistics
	if err := db.WithContext(ctx).
		Where("attempt_id IN ?", attemptIDs).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get statistics batch: %w", err)
	}

	result := make(map[uint]*models.ExamStatistics, len(rows))
	for _, row := range rows {
		result[row.AttemptID] = row
	}
	return result, nil
}

func (s *StatisticsPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
