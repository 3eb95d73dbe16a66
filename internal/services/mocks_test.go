package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/classmetrics/evaluation-service/internal/ai"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// ===== IN-MEMORY REPOSITORY =====

// memoryRepository is a full in-memory implementation of
// repositories.Repository for service tests.
type memoryRepository struct {
	mu sync.Mutex

	exams      map[uint]*models.Exam
	questions  map[uint]*models.Question
	attempts   map[uint]*models.ExamAttempt
	answers    []*models.StudentAnswer
	statistics map[uint]*models.ExamStatistics
	users      map[string]*models.User

	nextAttemptID uint
	nextAnswerID  uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		exams:      make(map[uint]*models.Exam),
		questions:  make(map[uint]*models.Question),
		attempts:   make(map[uint]*models.ExamAttempt),
		statistics: make(map[uint]*models.ExamStatistics),
		users:      make(map[string]*models.User),
	}
}

func (m *memoryRepository) addExam(exam *models.Exam) {
	m.exams[exam.ID] = exam
}

func (m *memoryRepository) addQuestion(q *models.Question) {
	m.questions[q.ID] = q
}

func (m *memoryRepository) addAttempt(attempt *models.ExamAttempt) {
	if attempt.ID == 0 {
		m.nextAttemptID++
		attempt.ID = m.nextAttemptID
	} else if attempt.ID > m.nextAttemptID {
		m.nextAttemptID = attempt.ID
	}
	m.attempts[attempt.ID] = attempt
}

func (m *memoryRepository) addAnswer(answer *models.StudentAnswer) {
	if answer.ID == 0 {
		m.nextAnswerID++
		answer.ID = m.nextAnswerID
	}
	m.answers = append(m.answers, answer)
}

func (m *memoryRepository) examQuestions(examID uint) []*models.Question {
	var questions []*models.Question
	for _, q := range m.questions {
		if q.ExamID == examID {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	return questions
}

func (m *memoryRepository) Exam() repositories.ExamRepository             { return &memoryExamRepo{m} }
func (m *memoryRepository) Question() repositories.QuestionRepository    { return &memoryQuestionRepo{m} }
func (m *memoryRepository) Attempt() repositories.AttemptRepository      { return &memoryAttemptRepo{m} }
func (m *memoryRepository) Answer() repositories.AnswerRepository        { return &memoryAnswerRepo{m} }
func (m *memoryRepository) Statistics() repositories.StatisticsRepository { return &memoryStatsRepo{m} }
func (m *memoryRepository) User() repositories.UserRepository            { return &memoryUserRepo{m} }

func (m *memoryRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}
func (m *memoryRepository) Ping(ctx context.Context) error { return nil }
func (m *memoryRepository) Close() error                   { return nil }

// ===== EXAMS =====

type memoryExamRepo struct{ m *memoryRepository }

func (r *memoryExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exam, ok := r.m.exams[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return exam, nil
}

func (r *memoryExamRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exam, ok := r.m.exams[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	loaded := *exam
	loaded.Questions = nil
	for _, q := range r.m.examQuestions(id) {
		loaded.Questions = append(loaded.Questions, *q)
	}
	return &loaded, nil
}

func (r *memoryExamRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*models.Exam, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exams := make([]*models.Exam, 0, len(r.m.exams))
	for _, exam := range r.m.exams {
		exams = append(exams, exam)
	}
	sort.Slice(exams, func(i, j int) bool { return exams[i].ID < exams[j].ID })
	return exams, int64(len(exams)), nil
}

// ===== QUESTIONS =====

type memoryQuestionRepo struct{ m *memoryRepository }

func (r *memoryQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	q, ok := r.m.questions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return q, nil
}

func (r *memoryQuestionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var questions []*models.Question
	for _, id := range ids {
		if q, ok := r.m.questions[id]; ok {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

func (r *memoryQuestionRepo) GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.examQuestions(examID), nil
}

// ===== ATTEMPTS =====

type memoryAttemptRepo struct{ m *memoryRepository }

func (r *memoryAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.addAttempt(attempt)
	return nil
}

func (r *memoryAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	loaded := *attempt
	return &loaded, nil
}

func (r *memoryAttemptRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}

	loaded := *attempt
	if exam, ok := r.m.exams[attempt.ExamID]; ok {
		examCopy := *exam
		loaded.Exam = &examCopy
	}
	loaded.Answers = nil
	for _, answer := range r.m.answers {
		if answer.AttemptID != id {
			continue
		}
		answerCopy := *answer
		answerCopy.Question = r.m.questions[answer.QuestionID]
		loaded.Answers = append(loaded.Answers, answerCopy)
	}
	sort.Slice(loaded.Answers, func(i, j int) bool {
		return loaded.Answers[i].QuestionID < loaded.Answers[j].QuestionID
	})
	if stats, ok := r.m.statistics[id]; ok {
		statsCopy := *stats
		loaded.Statistics = &statsCopy
	}
	return &loaded, nil
}

func (r *memoryAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.attempts[attempt.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.Status = attempt.Status
	stored.SubmittedAt = attempt.SubmittedAt
	stored.TimeSpent = attempt.TimeSpent
	stored.TotalScore = attempt.TotalScore
	stored.NeedsReview = attempt.NeedsReview
	return nil
}

func matchesFilters(attempt *models.ExamAttempt, filters repositories.AttemptFilters) bool {
	if len(filters.ExamIDs) > 0 {
		found := false
		for _, id := range filters.ExamIDs {
			if attempt.ExamID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filters.StudentIDs) > 0 {
		found := false
		for _, id := range filters.StudentIDs {
			if attempt.StudentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filters.Status != nil && attempt.Status != *filters.Status {
		return false
	}
	return true
}

func (r *memoryAttemptRepo) collect(filters repositories.AttemptFilters, completedOnly bool) []*models.ExamAttempt {
	var attempts []*models.ExamAttempt
	for _, attempt := range r.m.attempts {
		if completedOnly && (attempt.Status != models.AttemptCompleted || attempt.SubmittedAt == nil) {
			continue
		}
		if !matchesFilters(attempt, filters) {
			continue
		}
		loaded := *attempt
		if exam, ok := r.m.exams[attempt.ExamID]; ok {
			examCopy := *exam
			loaded.Exam = &examCopy
		}
		attempts = append(attempts, &loaded)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	return attempts
}

func (r *memoryAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempts := r.collect(filters, false)
	return attempts, int64(len(attempts)), nil
}

func (r *memoryAttemptRepo) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	filters.StudentIDs = []string{studentID}
	return r.List(ctx, tx, filters)
}

func (r *memoryAttemptRepo) GetByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	filters.ExamIDs = []uint{examID}
	return r.List(ctx, tx, filters)
}

func (r *memoryAttemptRepo) GetCompleted(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.collect(filters, true), nil
}

func (r *memoryAttemptRepo) CountByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var count int64
	for _, attempt := range r.m.attempts {
		if attempt.ExamID == examID && attempt.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

// ===== ANSWERS =====

type memoryAnswerRepo struct{ m *memoryRepository }

func (r *memoryAnswerRepo) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, answer := range answers {
		r.m.addAnswer(answer)
	}
	return nil
}

func (r *memoryAnswerRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var answers []*models.StudentAnswer
	for _, answer := range r.m.answers {
		if answer.AttemptID == attemptID {
			answerCopy := *answer
			answers = append(answers, &answerCopy)
		}
	}
	return answers, nil
}

func (r *memoryAnswerRepo) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.StudentAnswer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, answer := range r.m.answers {
		if answer.AttemptID == attemptID && answer.QuestionID == questionID {
			answerCopy := *answer
			return &answerCopy, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memoryAnswerRepo) ApplyEvaluation(ctx context.Context, tx *gorm.DB, eval repositories.AnswerEvaluation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, answer := range r.m.answers {
		if answer.AttemptID != eval.AttemptID || answer.QuestionID != eval.QuestionID {
			continue
		}
		answer.Score = eval.Score
		answer.IsCorrect = eval.Correctness
		evaluatedAt := eval.EvaluatedAt
		answer.EvaluatedAt = &evaluatedAt
		evaluatedText := eval.EvaluatedText
		answer.EvaluatedText = &evaluatedText
		if eval.AIEvaluation != nil {
			answer.AIEvaluation = eval.AIEvaluation
		}
		return nil
	}
	return repositories.ErrNotFound
}

// ===== STATISTICS =====

type memoryStatsRepo struct{ m *memoryRepository }

func (r *memoryStatsRepo) Upsert(ctx context.Context, tx *gorm.DB, stats *models.ExamStatistics) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	statsCopy := *stats
	r.m.statistics[stats.AttemptID] = &statsCopy
	return nil
}

func (r *memoryStatsRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.ExamStatistics, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stats, ok := r.m.statistics[attemptID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	statsCopy := *stats
	return &statsCopy, nil
}

func (r *memoryStatsRepo) GetByAttempts(ctx context.Context, tx *gorm.DB, attemptIDs []uint) (map[uint]*models.ExamStatistics, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	result := make(map[uint]*models.ExamStatistics)
	for _, id := range attemptIDs {
		if stats, ok := r.m.statistics[id]; ok {
			statsCopy := *stats
			result[id] = &statsCopy
		}
	}
	return result, nil
}

// ===== USERS =====

type memoryUserRepo struct{ m *memoryRepository }

func (r *memoryUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	user, ok := r.m.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return user, nil
}

func (r *memoryUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var users []*models.User
	for _, id := range ids {
		if user, ok := r.m.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *memoryUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var users []*models.User
	for _, user := range r.m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, int64(len(users)), nil
}

func (r *memoryUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.users[id]
	return ok, nil
}

// ===== FAKE TEXT EVALUATOR =====

// fakeEvaluator scripts the external grading backend: it fails the first
// failUntil calls, then returns the configured score and feedback.
type fakeEvaluator struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	score     float64
	feedback  string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req ai.EvaluationRequest) (*ai.EvaluationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return nil, fmt.Errorf("backend unavailable")
	}
	return &ai.EvaluationResponse{
		Score:    f.score,
		Feedback: f.feedback,
		Model:    "fake-model",
	}, nil
}

func (f *fakeEvaluator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
