package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/cache"
	"github.com/classmetrics/evaluation-service/internal/grades"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

type analyticsService struct {
	db           *gorm.DB
	repo         repositories.Repository
	logger       *slog.Logger
	cacheManager *cache.CacheManager

	quadrant QuadrantThresholds
	atRisk   AtRiskThresholds
}

// DefaultQuadrantThresholds splits at 70% score and 60 minutes.
func DefaultQuadrantThresholds() QuadrantThresholds {
	return QuadrantThresholds{Score: 70, TimeMinutes: 60}
}

// DefaultAtRiskThresholds flags students with two low scores (<60%) or two
// incomplete attempts.
func DefaultAtRiskThresholds() AtRiskThresholds {
	return AtRiskThresholds{ScoreCutoff: 60, LowScoreCount: 2, IncompleteCount: 2}
}

func NewAnalyticsService(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	cacheManager *cache.CacheManager,
	quadrant QuadrantThresholds,
	atRisk AtRiskThresholds,
) AnalyticsService {
	if quadrant.Score <= 0 {
		quadrant = DefaultQuadrantThresholds()
	}
	if atRisk.LowScoreCount <= 0 {
		atRisk = DefaultAtRiskThresholds()
	}
	return &analyticsService{
		db:           db,
		repo:         repo,
		logger:       logger,
		cacheManager: cacheManager,
		quadrant:     quadrant,
		atRisk:       atRisk,
	}
}

// ===== HEAT MAP =====

// BuildHeatMap folds attempts into one cell per (student, exam). The cell
// reflects the most recently submitted attempt; equal timestamps are broken
// by the higher attempt ID. Attempts without a submission time are ignored,
// so a missing cell always means "never submitted", not "scored zero".
func (s *analyticsService) BuildHeatMap(attempts []*models.ExamAttempt) []HeatMapCell {
	type cellKey struct {
		studentID string
		examID    uint
	}

	winners := make(map[cellKey]*models.ExamAttempt)
	for _, attempt := range attempts {
		if attempt.SubmittedAt == nil {
			continue
		}
		key := cellKey{studentID: attempt.StudentID, examID: attempt.ExamID}
		current, ok := winners[key]
		if !ok {
			winners[key] = attempt
			continue
		}
		switch {
		case attempt.SubmittedAt.After(*current.SubmittedAt):
			winners[key] = attempt
		case attempt.SubmittedAt.Equal(*current.SubmittedAt) && attempt.ID > current.ID:
			winners[key] = attempt
		}
	}

	cells := make([]HeatMapCell, 0, len(winners))
	for _, attempt := range winners {
		cell := HeatMapCell{
			StudentID:   attempt.StudentID,
			ExamID:      attempt.ExamID,
			AttemptID:   attempt.ID,
			Score:       attempt.TotalScore,
			SubmittedAt: *attempt.SubmittedAt,
			TimeSpent:   attempt.TimeSpent,
		}
		if attempt.Exam != nil {
			cell.ExamTitle = attempt.Exam.Title
			cell.MaxScore = attempt.Exam.MaxScore()
			cell.Percentage = grades.Round(grades.Percentage(attempt.TotalScore, cell.MaxScore), 2)
		}
		cells = append(cells, cell)
	}

	// Deterministic output order: student, then exam.
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].StudentID != cells[j].StudentID {
			return cells[i].StudentID < cells[j].StudentID
		}
		return cells[i].ExamID < cells[j].ExamID
	})

	return cells
}

// GetHeatMap loads committed attempts and folds them, cache-aside per
// filter combination.
func (s *analyticsService) GetHeatMap(ctx context.Context, examIDs []uint, studentIDs []string) ([]HeatMapCell, error) {
	var cells []HeatMapCell
	key := heatMapCacheKey(examIDs, studentIDs)

	err := s.cacheManager.HeatMap.CacheOrExecute(ctx, key, &cells, cache.HeatMapCacheConfig.TTL, func() (interface{}, error) {
		attempts, err := s.repo.Attempt().GetCompleted(ctx, nil, repositories.AttemptFilters{
			ExamIDs:    examIDs,
			StudentIDs: studentIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load attempts: %w", err)
		}

		built := s.BuildHeatMap(attempts)
		s.resolveStudentNames(ctx, built)
		return built, nil
	})
	if err != nil {
		return nil, err
	}

	return cells, nil
}

// ===== INTERVENTION QUADRANTS =====

// ClassifyQuadrant places one student on the score/time plane. Thresholds
// are inclusive on the high side.
func (s *analyticsService) ClassifyQuadrant(averageScore, averageTimeMinutes float64) Quadrant {
	highScore := averageScore >= s.quadrant.Score
	highTime := averageTimeMinutes >= s.quadrant.TimeMinutes

	switch {
	case highScore && highTime:
		return QuadrantExcellent
	case highScore && !highTime:
		return QuadrantGifted
	case !highScore && highTime:
		return QuadrantStruggling
	default:
		return QuadrantAtRisk
	}
}

// GetInterventionMatrix classifies every student who submitted the exam by
// average percentage and average time spent.
func (s *analyticsService) GetInterventionMatrix(ctx context.Context, examID uint) ([]StudentQuadrant, error) {
	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}
	maxScore := exam.MaxScore()

	attempts, err := s.repo.Attempt().GetCompleted(ctx, nil, repositories.AttemptFilters{
		ExamIDs: []uint{examID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	type accumulator struct {
		scoreSum float64
		timeSum  float64 // minutes
		count    int
	}
	byStudent := make(map[string]*accumulator)
	for _, attempt := range attempts {
		acc, ok := byStudent[attempt.StudentID]
		if !ok {
			acc = &accumulator{}
			byStudent[attempt.StudentID] = acc
		}
		acc.scoreSum += grades.Percentage(attempt.TotalScore, maxScore)
		acc.timeSum += float64(attempt.TimeSpent) / 60
		acc.count++
	}

	matrix := make([]StudentQuadrant, 0, len(byStudent))
	for studentID, acc := range byStudent {
		avgScore := acc.scoreSum / float64(acc.count)
		avgTime := acc.timeSum / float64(acc.count)
		matrix = append(matrix, StudentQuadrant{
			StudentID:        studentID,
			AverageScore:     grades.Round(avgScore, 2),
			AverageTimeSpent: grades.Round(avgTime, 2),
			AttemptCount:     acc.count,
			Quadrant:         s.ClassifyQuadrant(avgScore, avgTime),
		})
	}

	sort.Slice(matrix, func(i, j int) bool {
		return matrix[i].StudentID < matrix[j].StudentID
	})

	s.resolveQuadrantNames(ctx, matrix)
	return matrix, nil
}

// ===== TRENDS =====

// BuildTrendSeries orders attempts ascending by submission time, with
// attempt ID as the deterministic tie-break, and emits one point per
// attempt.
func (s *analyticsService) BuildTrendSeries(attempts []*models.ExamAttempt) []TrendPoint {
	submitted := make([]*models.ExamAttempt, 0, len(attempts))
	for _, attempt := range attempts {
		if attempt.SubmittedAt != nil {
			submitted = append(submitted, attempt)
		}
	}

	sort.Slice(submitted, func(i, j int) bool {
		if !submitted[i].SubmittedAt.Equal(*submitted[j].SubmittedAt) {
			return submitted[i].SubmittedAt.Before(*submitted[j].SubmittedAt)
		}
		return submitted[i].ID < submitted[j].ID
	})

	points := make([]TrendPoint, 0, len(submitted))
	for _, attempt := range submitted {
		point := TrendPoint{
			AttemptID:   attempt.ID,
			ExamID:      attempt.ExamID,
			SubmittedAt: *attempt.SubmittedAt,
		}
		if attempt.Exam != nil {
			point.ExamTitle = attempt.Exam.Title
			point.Percentage = grades.Round(grades.Percentage(attempt.TotalScore, attempt.Exam.MaxScore()), 2)
		}
		point.Grade = grades.Letter(point.Percentage)
		points = append(points, point)
	}

	return points
}

// GetStudentTrend returns the student's performance series, optionally
// restricted to specific exams.
func (s *analyticsService) GetStudentTrend(ctx context.Context, studentID string, examIDs []uint) ([]TrendPoint, error) {
	var points []TrendPoint
	key := fmt.Sprintf("trend:%s:%s", studentID, joinIDs(examIDs))

	err := s.cacheManager.HeatMap.CacheOrExecute(ctx, key, &points, cache.HeatMapCacheConfig.TTL, func() (interface{}, error) {
		attempts, err := s.repo.Attempt().GetCompleted(ctx, nil, repositories.AttemptFilters{
			ExamIDs:    examIDs,
			StudentIDs: []string{studentID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load attempts: %w", err)
		}
		return s.BuildTrendSeries(attempts), nil
	})
	if err != nil {
		return nil, err
	}

	return points, nil
}

// ===== AT-RISK IDENTIFICATION =====

// IdentifyAtRiskStudents flags students with repeated low scores or
// repeated never-submitted attempts, attaching a recommendation derived
// from which condition triggered.
func (s *analyticsService) IdentifyAtRiskStudents(ctx context.Context, examIDs []uint) ([]AtRiskStudent, error) {
	var flagged []AtRiskStudent
	key := fmt.Sprintf("at-risk:%s", joinIDs(examIDs))

	err := s.cacheManager.HeatMap.CacheOrExecute(ctx, key, &flagged, cache.HeatMapCacheConfig.TTL, func() (interface{}, error) {
		return s.identifyAtRisk(ctx, examIDs)
	})
	if err != nil {
		return nil, err
	}

	return flagged, nil
}

func (s *analyticsService) identifyAtRisk(ctx context.Context, examIDs []uint) ([]AtRiskStudent, error) {
	// All attempts, including in-progress ones: abandonment is a signal.
	attempts, _, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{
		ExamIDs: examIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	type evidence struct {
		lowScores  int
		incomplete int
		scoreSum   float64
		scored     int
	}
	byStudent := make(map[string]*evidence)
	for _, attempt := range attempts {
		ev, ok := byStudent[attempt.StudentID]
		if !ok {
			ev = &evidence{}
			byStudent[attempt.StudentID] = ev
		}

		if attempt.SubmittedAt == nil {
			ev.incomplete++
			continue
		}

		maxScore := 0.0
		if attempt.Exam != nil {
			maxScore = attempt.Exam.MaxScore()
		}
		percentage := grades.Percentage(attempt.TotalScore, maxScore)
		ev.scoreSum += percentage
		ev.scored++
		if percentage < s.atRisk.ScoreCutoff {
			ev.lowScores++
		}
	}

	flagged := make([]AtRiskStudent, 0)
	for studentID, ev := range byStudent {
		lowTrigger := ev.lowScores >= s.atRisk.LowScoreCount
		incompleteTrigger := ev.incomplete >= s.atRisk.IncompleteCount
		if !lowTrigger && !incompleteTrigger {
			continue
		}

		average := 0.0
		if ev.scored > 0 {
			average = ev.scoreSum / float64(ev.scored)
		}

		flagged = append(flagged, AtRiskStudent{
			StudentID:          studentID,
			LowScores:          ev.lowScores,
			IncompleteAttempts: ev.incomplete,
			AverageScore:       grades.Round(average, 2),
			Recommendation:     atRiskRecommendation(lowTrigger, incompleteTrigger),
		})
	}

	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].StudentID < flagged[j].StudentID
	})

	s.resolveAtRiskNames(ctx, flagged)
	return flagged, nil
}

func atRiskRecommendation(lowScores, incomplete bool) string {
	switch {
	case lowScores && incomplete:
		return "Repeated low scores and unfinished attempts; schedule a one-on-one check-in and review foundational material."
	case lowScores:
		return "Scores are consistently below the cutoff; recommend targeted revision of recent exam topics."
	default:
		return "Multiple attempts were started but never submitted; check for time-management or engagement issues."
	}
}

// ===== GRADE SUMMARY =====

// GetExamGradeSummary computes the class-wide average, median, and letter
// distribution over heat-map cells (one attempt per student).
func (s *analyticsService) GetExamGradeSummary(ctx context.Context, examID uint) (*ExamGradeSummary, error) {
	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	cells, err := s.GetHeatMap(ctx, []uint{examID}, nil)
	if err != nil {
		return nil, err
	}

	percentages := make([]float64, 0, len(cells))
	for _, cell := range cells {
		percentages = append(percentages, cell.Percentage)
	}

	return &ExamGradeSummary{
		ExamID:       examID,
		ExamTitle:    exam.Title,
		AttemptCount: len(cells),
		Average:      grades.Round(grades.Average(percentages), 2),
		Median:       grades.Round(grades.Median(percentages), 2),
		Distribution: grades.Distribute(percentages),
	}, nil
}

// ===== HELPERS =====

func (s *analyticsService) resolveStudentNames(ctx context.Context, cells []HeatMapCell) {
	ids := make([]string, 0, len(cells))
	seen := make(map[string]bool)
	for _, cell := range cells {
		if !seen[cell.StudentID] {
			seen[cell.StudentID] = true
			ids = append(ids, cell.StudentID)
		}
	}

	names := s.lookupNames(ctx, ids)
	for i := range cells {
		cells[i].StudentName = names[cells[i].StudentID]
	}
}

func (s *analyticsService) resolveQuadrantNames(ctx context.Context, matrix []StudentQuadrant) {
	ids := make([]string, 0, len(matrix))
	for _, entry := range matrix {
		ids = append(ids, entry.StudentID)
	}
	names := s.lookupNames(ctx, ids)
	for i := range matrix {
		matrix[i].StudentName = names[matrix[i].StudentID]
	}
}

func (s *analyticsService) resolveAtRiskNames(ctx context.Context, flagged []AtRiskStudent) {
	ids := make([]string, 0, len(flagged))
	for _, entry := range flagged {
		ids = append(ids, entry.StudentID)
	}
	names := s.lookupNames(ctx, ids)
	for i := range flagged {
		flagged[i].StudentName = names[flagged[i].StudentID]
	}
}

// lookupNames resolves display names best-effort; a directory outage only
// costs the names, never the analytics.
func (s *analyticsService) lookupNames(ctx context.Context, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names
	}

	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve student names", "error", err)
		return names
	}
	for _, user := range users {
		names[user.ID] = user.FullName()
	}
	return names
}

func heatMapCacheKey(examIDs []uint, studentIDs []string) string {
	return fmt.Sprintf("exam:%s:students:%s", joinIDs(examIDs), strings.Join(studentIDs, ","))
}

func joinIDs(ids []uint) string {
	if len(ids) == 0 {
		return "all"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}
