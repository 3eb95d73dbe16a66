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

func newAttemptFixture(repo *memoryRepository, evaluator *fakeEvaluator) AttemptService {
	logger := newTestLogger()
	cacheManager := cache.NewCacheManager(nil)
	statistics := NewStatisticsService(nil, repo, logger, cacheManager)
	grader := NewOpenEndedGrader(evaluator, repo, logger, OpenEndedGraderConfig{MaxRetries: 1, CallTimeout: time.Second})
	evaluation := NewEvaluationService(nil, repo, logger, validator.New(), grader, statistics,
		events.NewMockEventPublisher(logger))
	return NewAttemptService(nil, repo, logger, validator.New(), evaluation, statistics)
}

func seedActiveExam(repo *memoryRepository) {
	repo.addExam(&models.Exam{ID: 1, Title: "Quiz", Status: models.ExamStatusActive, TotalMarks: 2})
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
}

func TestAttemptStart(t *testing.T) {
	repo := newMemoryRepository()
	service := newAttemptFixture(repo, &fakeEvaluator{})
	ctx := context.Background()
	seedActiveExam(repo)

	t.Run("creates numbered attempts", func(t *testing.T) {
		first, err := service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if first.AttemptNumber != 1 || first.Status != models.AttemptInProgress {
			t.Errorf("first attempt = %+v", first)
		}

		second, err := service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if second.AttemptNumber != 2 {
			t.Errorf("AttemptNumber = %d, want 2", second.AttemptNumber)
		}
	})

	t.Run("rejects inactive exam", func(t *testing.T) {
		repo.addExam(&models.Exam{ID: 2, Title: "Draft", Status: models.ExamStatusDraft})
		if _, err := service.Start(ctx, &StartAttemptRequest{ExamID: 2}, "student-1"); !IsValidationError(err) {
			t.Errorf("err = %v, want validation error", err)
		}
	})

	t.Run("unknown exam", func(t *testing.T) {
		if _, err := service.Start(ctx, &StartAttemptRequest{ExamID: 9}, "student-1"); !errors.Is(err, ErrExamNotFound) {
			t.Errorf("err = %v, want ErrExamNotFound", err)
		}
	})
}

func TestAttemptSubmit(t *testing.T) {
	repo := newMemoryRepository()
	service := newAttemptFixture(repo, &fakeEvaluator{})
	ctx := context.Background()
	seedActiveExam(repo)

	attempt, err := service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	t.Run("wrong student is rejected", func(t *testing.T) {
		req := &SubmitAttemptRequest{AttemptID: attempt.ID}
		if _, err := service.Submit(ctx, req, "someone-else"); !IsPermissionError(err) {
			t.Errorf("err = %v, want permission error", err)
		}
	})

	t.Run("materializes one answer per question and evaluates", func(t *testing.T) {
		req := &SubmitAttemptRequest{
			AttemptID: attempt.ID,
			TimeSpent: 1200,
			Answers: []SubmittedAnswer{
				{QuestionID: 1, AnswerText: "Paris"},
				// Question 2 deliberately omitted: it must still get a row.
			},
		}
		result, err := service.Submit(ctx, req, "student-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		answers, err := repo.Answer().GetByAttempt(ctx, nil, attempt.ID)
		if err != nil {
			t.Fatalf("failed to load answers: %v", err)
		}
		if len(answers) != 2 {
			t.Fatalf("answer rows = %d, want one per exam question", len(answers))
		}

		if result.TotalScore != 1 {
			t.Errorf("TotalScore = %v, want 1", result.TotalScore)
		}
		if result.Statistics == nil {
			t.Fatal("statistics missing from evaluation result")
		}
		if result.Statistics.SkippedCount != 1 || result.Statistics.CorrectCount != 1 {
			t.Errorf("stats = %+v, want 1 correct, 1 skipped", result.Statistics)
		}

		stored, err := repo.Attempt().GetByID(ctx, nil, attempt.ID)
		if err != nil {
			t.Fatalf("failed to reload attempt: %v", err)
		}
		if stored.Status != models.AttemptCompleted || stored.SubmittedAt == nil || stored.TimeSpent != 1200 {
			t.Errorf("attempt not finalized: %+v", stored)
		}
	})

	t.Run("double submission is rejected", func(t *testing.T) {
		req := &SubmitAttemptRequest{AttemptID: attempt.ID}
		if _, err := service.Submit(ctx, req, "student-1"); !errors.Is(err, ErrAttemptAlreadySubmitted) {
			t.Errorf("err = %v, want ErrAttemptAlreadySubmitted", err)
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		req := &SubmitAttemptRequest{AttemptID: 999}
		if _, err := service.Submit(ctx, req, "student-1"); !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("err = %v, want ErrAttemptNotFound", err)
		}
	})
}

func TestAttemptGetResults(t *testing.T) {
	repo := newMemoryRepository()
	service := newAttemptFixture(repo, &fakeEvaluator{score: 1})
	ctx := context.Background()
	seedActiveExam(repo)

	repo.users["student-1"] = &models.User{ID: "student-1", DisplayName: "Ann", Role: models.RoleStudent}
	repo.users["student-2"] = &models.User{ID: "student-2", DisplayName: "Ben", Role: models.RoleStudent}
	repo.users["teacher-1"] = &models.User{ID: "teacher-1", DisplayName: "Prof", Role: models.RoleTeacher}

	attempt, err := service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err = service.Submit(ctx, &SubmitAttemptRequest{
		AttemptID: attempt.ID,
		TimeSpent: 900,
		Answers: []SubmittedAnswer{
			{QuestionID: 1, AnswerText: "Paris"},
			{QuestionID: 2, AnswerText: "5"},
		},
	}, "student-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	t.Run("owner sees the full review", func(t *testing.T) {
		results, err := service.GetResults(ctx, attempt.ID, "student-1")
		if err != nil {
			t.Fatalf("GetResults failed: %v", err)
		}
		if len(results.Questions) != 2 {
			t.Fatalf("questions = %d, want 2", len(results.Questions))
		}
		if results.TotalScore != 1 || results.MaxScore != 2 || results.Percentage != 50 {
			t.Errorf("rollup = %v/%v (%v%%), want 1/2 (50%%)", results.TotalScore, results.MaxScore, results.Percentage)
		}
		if results.Grade != "F" {
			t.Errorf("Grade = %s, want F", results.Grade)
		}
		if results.Statistics == nil {
			t.Error("statistics should ride along with results")
		}
	})

	t.Run("other students are denied", func(t *testing.T) {
		if _, err := service.GetResults(ctx, attempt.ID, "student-2"); !IsPermissionError(err) {
			t.Errorf("err = %v, want permission error", err)
		}
	})

	t.Run("teachers may review any attempt", func(t *testing.T) {
		if _, err := service.GetResults(ctx, attempt.ID, "teacher-1"); err != nil {
			t.Errorf("GetResults for teacher failed: %v", err)
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		if _, err := service.GetResults(ctx, 999, "student-1"); !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("err = %v, want ErrAttemptNotFound", err)
		}
	})
}
