package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/classmetrics/evaluation-service/internal/cache"
	"github.com/classmetrics/evaluation-service/internal/events"
	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/validator"
)

func strPtr(s string) *string { return &s }

// newEvaluationFixture wires an evaluation service over the in-memory
// repository and a scripted grading backend.
func newEvaluationFixture(repo *memoryRepository, evaluator *fakeEvaluator) (EvaluationService, *events.MockEventPublisher) {
	logger := newTestLogger()
	cacheManager := cache.NewCacheManager(nil)
	statistics := NewStatisticsService(nil, repo, logger, cacheManager)
	grader := NewOpenEndedGrader(evaluator, repo, logger, OpenEndedGraderConfig{
		MaxRetries:  2,
		CallTimeout: time.Second,
	})
	publisher := events.NewMockEventPublisher(logger)
	service := NewEvaluationService(nil, repo, logger, validator.New(), grader, statistics, publisher)
	return service, publisher
}

// seedMixedExam creates an exam with one question of each kind plus a second
// open-ended question, and a submitted attempt answering them.
func seedMixedExam(repo *memoryRepository, answers map[uint]string) *models.ExamAttempt {
	repo.addExam(&models.Exam{
		ID:     1,
		Title:  "Midterm",
		Status: models.ExamStatusActive,
	})
	repo.addQuestion(&models.Question{
		ID: 1, ExamID: 1, Type: models.MultipleChoice, Text: "Capital of France?", Marks: 1, Order: 1,
		Options: []models.QuestionOption{
			{ID: 11, QuestionID: 1, Text: "Paris", IsCorrect: true},
			{ID: 12, QuestionID: 1, Text: "Lyon"},
		},
	})
	repo.addQuestion(&models.Question{
		ID: 2, ExamID: 1, Type: models.FillInBlank, Text: "2+2=?", Marks: 1, Order: 2,
		CorrectAnswer: strPtr("4"),
	})
	repo.addQuestion(&models.Question{
		ID: 3, ExamID: 1, Type: models.OpenEnded, Text: "Explain gravity.", Marks: 1, Order: 3,
		ModelAnswer: strPtr("Mass attracts mass."),
	})
	repo.addQuestion(&models.Question{
		ID: 4, ExamID: 1, Type: models.OpenEnded, Text: "Explain entropy.", Marks: 1, Order: 4,
		ModelAnswer: strPtr("Disorder increases."),
	})

	now := time.Now()
	attempt := &models.ExamAttempt{
		ID:          1,
		ExamID:      1,
		StudentID:   "student-1",
		Status:      models.AttemptCompleted,
		StartedAt:   now.Add(-time.Hour),
		SubmittedAt: &now,
		TimeSpent:   1800,
	}
	repo.addAttempt(attempt)

	for questionID := uint(1); questionID <= 4; questionID++ {
		repo.addAnswer(&models.StudentAnswer{
			AttemptID:  1,
			QuestionID: questionID,
			AnswerText: answers[questionID],
			IsCorrect:  models.CorrectnessPending,
		})
	}
	return attempt
}

func TestEvaluateAnswer_MultipleChoice(t *testing.T) {
	repo := newMemoryRepository()
	service, _ := newEvaluationFixture(repo, &fakeEvaluator{})

	question := &models.Question{
		ID: 1, Type: models.MultipleChoice, Text: "Capital of France?", Marks: 2,
		Options: []models.QuestionOption{
			{ID: 10, Text: "Paris", IsCorrect: true},
			{ID: 11, Text: "Lyon"},
		},
	}

	tests := []struct {
		name        string
		answerText  string
		wantScore   float64
		wantOutcome models.Correctness
	}{
		{name: "correct by text", answerText: "Paris", wantScore: 2, wantOutcome: models.CorrectnessCorrect},
		{name: "correct case-insensitive", answerText: "  paris ", wantScore: 2, wantOutcome: models.CorrectnessCorrect},
		{name: "correct by option id", answerText: "10", wantScore: 2, wantOutcome: models.CorrectnessCorrect},
		{name: "wrong option", answerText: "Lyon", wantScore: 0, wantOutcome: models.CorrectnessIncorrect},
		{name: "unmatched text", answerText: "Marseille", wantScore: 0, wantOutcome: models.CorrectnessIncorrect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := service.EvaluateAnswer(question, &models.StudentAnswer{AnswerText: tt.answerText})
			if result.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", result.Score, tt.wantScore)
			}
			if result.Correctness != tt.wantOutcome {
				t.Errorf("Correctness = %v, want %v", result.Correctness, tt.wantOutcome)
			}
			if result.Pending {
				t.Error("multiple-choice answers must never be pending")
			}
		})
	}

	t.Run("no correct option flagged", func(t *testing.T) {
		broken := &models.Question{
			ID: 2, Type: models.MultipleChoice, Text: "Pick one.", Marks: 2,
			Options: []models.QuestionOption{{ID: 20, Text: "A"}, {ID: 21, Text: "B"}},
		}
		result := service.EvaluateAnswer(broken, &models.StudentAnswer{AnswerText: "A"})
		if result.Diagnostic == "" {
			t.Error("expected a diagnostic for a question without a correct option")
		}
		if result.Correctness != models.CorrectnessIncorrect {
			t.Errorf("Correctness = %v, want incorrect", result.Correctness)
		}
	})
}

func TestEvaluateAnswer_FillInBlank(t *testing.T) {
	repo := newMemoryRepository()
	service, _ := newEvaluationFixture(repo, &fakeEvaluator{})

	tests := []struct {
		name        string
		question    *models.Question
		answerText  string
		wantScore   float64
		wantOutcome models.Correctness
		wantPending bool
	}{
		{
			name:        "exact match",
			question:    &models.Question{Type: models.FillInBlank, Text: "Capital?", Marks: 1, CorrectAnswer: strPtr("Paris")},
			answerText:  "Paris",
			wantScore:   1,
			wantOutcome: models.CorrectnessCorrect,
		},
		{
			name:        "case and whitespace insensitive",
			question:    &models.Question{Type: models.FillInBlank, Text: "Capital?", Marks: 1, CorrectAnswer: strPtr("Paris")},
			answerText:  "  PARIS  ",
			wantScore:   1,
			wantOutcome: models.CorrectnessCorrect,
		},
		{
			name:        "fallback to first model answer token",
			question:    &models.Question{Type: models.FillInBlank, Text: "Capital?", Marks: 1, ModelAnswer: strPtr("Paris is the capital")},
			answerText:  "paris",
			wantScore:   1,
			wantOutcome: models.CorrectnessCorrect,
		},
		{
			name:        "miss without partial credit",
			question:    &models.Question{Type: models.FillInBlank, Text: "Capital?", Marks: 1, CorrectAnswer: strPtr("Paris")},
			answerText:  "Lyon",
			wantScore:   0,
			wantOutcome: models.CorrectnessIncorrect,
		},
		{
			name: "miss with partial credit routes to grader",
			question: &models.Question{
				Type: models.FillInBlank, Text: "Capital?", Marks: 1,
				CorrectAnswer:      strPtr("Paris"),
				ModelAnswer:        strPtr("Paris, the capital of France"),
				AllowPartialCredit: true,
			},
			answerText:  "the capital city",
			wantOutcome: models.CorrectnessPending,
			wantPending: true,
		},
		{
			name: "miss with partial credit but no model answer stays incorrect",
			question: &models.Question{
				Type: models.FillInBlank, Text: "Capital?", Marks: 1,
				CorrectAnswer:      strPtr("Paris"),
				AllowPartialCredit: true,
			},
			answerText:  "Lyon",
			wantOutcome: models.CorrectnessIncorrect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := service.EvaluateAnswer(tt.question, &models.StudentAnswer{AnswerText: tt.answerText})
			if result.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", result.Score, tt.wantScore)
			}
			if result.Correctness != tt.wantOutcome {
				t.Errorf("Correctness = %v, want %v", result.Correctness, tt.wantOutcome)
			}
			if result.Pending != tt.wantPending {
				t.Errorf("Pending = %v, want %v", result.Pending, tt.wantPending)
			}
		})
	}

	t.Run("blank answer short-circuits", func(t *testing.T) {
		question := &models.Question{Type: models.OpenEnded, Text: "Explain.", Marks: 1, ModelAnswer: strPtr("anything")}
		result := service.EvaluateAnswer(question, &models.StudentAnswer{AnswerText: "   "})
		if result.Pending || result.Score != 0 || result.Correctness != models.CorrectnessIncorrect {
			t.Errorf("blank answer: got score=%v correctness=%v pending=%v", result.Score, result.Correctness, result.Pending)
		}
	})
}

func TestEvaluateAttempt_MixedAttempt(t *testing.T) {
	repo := newMemoryRepository()
	// Open-ended answers earn half marks each; question 4 is left blank.
	evaluator := &fakeEvaluator{score: 0.5, feedback: "Reasonable but incomplete."}
	service, publisher := newEvaluationFixture(repo, evaluator)

	seedMixedExam(repo, map[uint]string{
		1: "Paris",                  // mcq, correct
		2: "5",                      // fib, incorrect
		3: "Things fall down.",      // open-ended, graded 0.5 -> partial
		4: "",                       // skipped
	})

	result, err := service.EvaluateAttempt(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateAttempt failed: %v", err)
	}

	if result.TotalScore != 1.5 {
		t.Errorf("TotalScore = %v, want 1.5", result.TotalScore)
	}
	if result.MaxScore != 4 {
		t.Errorf("MaxScore = %v, want 4", result.MaxScore)
	}
	if result.PendingAnswers != 0 {
		t.Errorf("PendingAnswers = %d, want 0", result.PendingAnswers)
	}
	if result.NeedsReview {
		t.Error("NeedsReview should be false when nothing is pending")
	}

	stats := result.Statistics
	if stats == nil {
		t.Fatal("expected statistics to be attached")
	}
	if stats.CorrectCount != 1 || stats.IncorrectCount != 1 || stats.PartiallyCorrectCount != 1 || stats.SkippedCount != 1 {
		t.Errorf("counts = %d/%d/%d/%d, want 1/1/1/1",
			stats.CorrectCount, stats.IncorrectCount, stats.PartiallyCorrectCount, stats.SkippedCount)
	}
	if stats.TotalQuestions != 4 {
		t.Errorf("TotalQuestions = %d, want 4", stats.TotalQuestions)
	}

	// Only the answered open-ended question reaches the backend; the blank
	// one is decided locally.
	if evaluator.callCount() != 1 {
		t.Errorf("evaluator calls = %d, want 1", evaluator.callCount())
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(published))
	}
	if published[0].Type != events.TypeAttemptEvaluated {
		t.Errorf("event type = %s, want %s", published[0].Type, events.TypeAttemptEvaluated)
	}
	if published[0].Source != "evaluation-service" {
		t.Errorf("event source = %s, want evaluation-service", published[0].Source)
	}
}

func TestEvaluateAttempt_Idempotent(t *testing.T) {
	repo := newMemoryRepository()
	evaluator := &fakeEvaluator{score: 1}
	service, publisher := newEvaluationFixture(repo, evaluator)

	seedMixedExam(repo, map[uint]string{
		1: "Paris",
		2: "4",
		3: "Mass attracts mass.",
		4: "Disorder increases.",
	})

	first, err := service.EvaluateAttempt(context.Background(), 1)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	callsAfterFirst := evaluator.callCount()
	publisher.ClearEvents()

	second, err := service.EvaluateAttempt(context.Background(), 1)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if evaluator.callCount() != callsAfterFirst {
		t.Errorf("second pass made %d extra backend calls, want 0",
			evaluator.callCount()-callsAfterFirst)
	}
	if first.TotalScore != second.TotalScore {
		t.Errorf("TotalScore changed between passes: %v vs %v", first.TotalScore, second.TotalScore)
	}
	if second.TotalScore != 4 {
		t.Errorf("TotalScore = %v, want 4", second.TotalScore)
	}
}

func TestEvaluateAttempt_GraderFailure(t *testing.T) {
	repo := newMemoryRepository()
	// Backend never recovers within the retry budget.
	evaluator := &fakeEvaluator{failUntil: 100}
	service, publisher := newEvaluationFixture(repo, evaluator)

	seedMixedExam(repo, map[uint]string{
		1: "Paris",
		2: "4",
		3: "Gravity pulls.",
		4: "",
	})

	result, err := service.EvaluateAttempt(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateAttempt failed: %v", err)
	}

	if result.PendingAnswers != 1 {
		t.Errorf("PendingAnswers = %d, want 1", result.PendingAnswers)
	}
	if !result.NeedsReview {
		t.Error("NeedsReview should be set when grading retries are exhausted")
	}
	if result.Statistics != nil {
		t.Error("statistics must not be persisted while answers are pending")
	}
	// Local scores still land.
	if result.TotalScore != 2 {
		t.Errorf("TotalScore = %v, want 2 (mcq + fib only)", result.TotalScore)
	}

	// Three calls: first try plus two retries.
	if evaluator.callCount() != 3 {
		t.Errorf("evaluator calls = %d, want 3", evaluator.callCount())
	}

	// The pending row stays untouched.
	answer, err := repo.Answer().GetByAttemptAndQuestion(context.Background(), nil, 1, 3)
	if err != nil {
		t.Fatalf("failed to reload answer: %v", err)
	}
	if answer.EvaluatedAt != nil {
		t.Error("failed grading must not set evaluated_at")
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.TypeAttemptNeedsRegrade {
		t.Fatalf("expected one %s event, got %+v", events.TypeAttemptNeedsRegrade, published)
	}
}

func TestEvaluateAttempt_NotSubmitted(t *testing.T) {
	repo := newMemoryRepository()
	service, _ := newEvaluationFixture(repo, &fakeEvaluator{})

	repo.addExam(&models.Exam{ID: 1, Title: "Quiz", Status: models.ExamStatusActive})
	repo.addAttempt(&models.ExamAttempt{
		ID:        7,
		ExamID:    1,
		StudentID: "student-1",
		Status:    models.AttemptInProgress,
		StartedAt: time.Now(),
	})

	if _, err := service.EvaluateAttempt(context.Background(), 7); !errors.Is(err, ErrAttemptNotSubmitted) {
		t.Errorf("err = %v, want ErrAttemptNotSubmitted", err)
	}

	if _, err := service.EvaluateAttempt(context.Background(), 999); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("err = %v, want ErrAttemptNotFound", err)
	}
}

func TestReEvaluateExam(t *testing.T) {
	repo := newMemoryRepository()
	evaluator := &fakeEvaluator{score: 1}
	service, _ := newEvaluationFixture(repo, evaluator)

	repo.addExam(&models.Exam{ID: 1, Title: "Final", Status: models.ExamStatusActive})
	repo.addQuestion(&models.Question{
		ID: 1, ExamID: 1, Type: models.FillInBlank, Text: "2+2=?", Marks: 1, Order: 1,
		CorrectAnswer: strPtr("4"),
	})

	now := time.Now()
	for i := uint(1); i <= 2; i++ {
		repo.addAttempt(&models.ExamAttempt{
			ID: i, ExamID: 1, StudentID: "student-1",
			Status: models.AttemptCompleted, StartedAt: now.Add(-time.Hour), SubmittedAt: &now,
		})
		repo.addAnswer(&models.StudentAnswer{
			AttemptID: i, QuestionID: 1, AnswerText: "4", IsCorrect: models.CorrectnessPending,
		})
	}
	// An in-progress attempt is never re-evaluated.
	repo.addAttempt(&models.ExamAttempt{
		ID: 3, ExamID: 1, StudentID: "student-2",
		Status: models.AttemptInProgress, StartedAt: now,
	})

	results, err := service.ReEvaluateExam(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReEvaluateExam failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(results))
	}
	for _, result := range results {
		if result.TotalScore != 1 {
			t.Errorf("attempt %d: TotalScore = %v, want 1", result.AttemptID, result.TotalScore)
		}
	}

	if _, err := service.ReEvaluateExam(context.Background(), 99); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("err = %v, want ErrExamNotFound", err)
	}
}

func TestReEvaluateExam_PropagatesAnswerKeyCorrection(t *testing.T) {
	repo := newMemoryRepository()
	evaluator := &fakeEvaluator{score: 1}
	service, _ := newEvaluationFixture(repo, evaluator)

	seedMixedExam(repo, map[uint]string{
		1: "Lyon", // wrong under the original key
		2: "4",
		3: "Mass attracts mass.",
		4: "Disorder increases.",
	})

	first, err := service.EvaluateAttempt(context.Background(), 1)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if first.TotalScore != 3 {
		t.Fatalf("TotalScore = %v, want 3 before the correction", first.TotalScore)
	}
	callsAfterFirst := evaluator.callCount()

	// The teacher corrects the answer key: Lyon was right all along.
	question := repo.questions[1]
	question.Options[0].IsCorrect = false
	question.Options[1].IsCorrect = true

	results, err := service.ReEvaluateExam(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReEvaluateExam failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(results))
	}
	if results[0].TotalScore != 4 {
		t.Errorf("TotalScore = %v, want 4 after the correction", results[0].TotalScore)
	}

	// Unchanged text must not trip the external grader again.
	if evaluator.callCount() != callsAfterFirst {
		t.Errorf("re-evaluation made %d extra backend calls, want 0",
			evaluator.callCount()-callsAfterFirst)
	}

	answer, err := repo.Answer().GetByAttemptAndQuestion(context.Background(), nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to reload answer: %v", err)
	}
	if answer.IsCorrect != models.CorrectnessCorrect || answer.Score != 1 {
		t.Errorf("stored row = score %v %v, want 1 correct", answer.Score, answer.IsCorrect)
	}
}

func TestEvaluateAnswer_MalformedQuestion(t *testing.T) {
	repo := newMemoryRepository()
	service, _ := newEvaluationFixture(repo, &fakeEvaluator{})

	tests := []struct {
		name     string
		question *models.Question
	}{
		{
			name:     "zero marks",
			question: &models.Question{Type: models.FillInBlank, Text: "?", Marks: 0, CorrectAnswer: strPtr("4")},
		},
		{
			name:     "fill-in-blank without any answer",
			question: &models.Question{Type: models.FillInBlank, Text: "?", Marks: 1},
		},
		{
			name:     "open-ended without model answer",
			question: &models.Question{Type: models.OpenEnded, Text: "Explain.", Marks: 1},
		},
		{
			name: "multiple correct options",
			question: &models.Question{
				Type: models.MultipleChoice, Text: "Pick one.", Marks: 1,
				Options: []models.QuestionOption{
					{ID: 1, Text: "A", IsCorrect: true},
					{ID: 2, Text: "B", IsCorrect: true},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := service.EvaluateAnswer(tt.question, &models.StudentAnswer{AnswerText: "something"})
			if result.Diagnostic == "" {
				t.Error("expected a diagnostic for an ungradable question")
			}
			if result.Correctness != models.CorrectnessIncorrect || result.Score != 0 {
				t.Errorf("got score=%v correctness=%v, want zero incorrect", result.Score, result.Correctness)
			}
			if result.Pending {
				t.Error("malformed questions must never reach the grader")
			}
		})
	}
}
