package services

import (
	"strconv"
	"strings"

	"github.com/classmetrics/evaluation-service/internal/models"
	"github.com/classmetrics/evaluation-service/internal/repositories"
)

// ===== MULTIPLE CHOICE =====

// evaluateMultipleChoice awards all-or-nothing marks. The submitted text is
// matched against option IDs first, then option text case-insensitively. A
// question with no flagged correct option degrades to incorrect with a
// diagnostic instead of erroring.
func (s *evaluationService) evaluateMultipleChoice(question *models.Question, answerText string, result *EvaluationResult) {
	var correct *models.QuestionOption
	for i := range question.Options {
		if question.Options[i].IsCorrect {
			correct = &question.Options[i]
			break
		}
	}
	if correct == nil {
		result.Diagnostic = "question has no correct option flagged"
		return
	}

	selected := findSelectedOption(question.Options, answerText)
	if selected == nil {
		// Submitted text matches no option; treat as incorrect.
		return
	}

	if selected.ID == correct.ID {
		result.Score = question.Marks
		result.Correctness = models.CorrectnessCorrect
	}
}

func findSelectedOption(options []models.QuestionOption, answerText string) *models.QuestionOption {
	trimmed := strings.TrimSpace(answerText)

	if id, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		for i := range options {
			if options[i].ID == uint(id) {
				return &options[i]
			}
		}
	}

	for i := range options {
		if strings.EqualFold(strings.TrimSpace(options[i].Text), trimmed) {
			return &options[i]
		}
	}
	return nil
}

// ===== FILL IN BLANK =====

// evaluateFillInBlank compares the trimmed answer case-insensitively
// against the canonical answer. An exact match earns full marks; a miss on
// a partial-credit question is routed to the AI grader, otherwise it is
// incorrect.
func (s *evaluationService) evaluateFillInBlank(question *models.Question, answerText string, result *EvaluationResult) {
	canonical := canonicalFillAnswer(question)
	if canonical == "" {
		result.Diagnostic = "question has no canonical answer"
		return
	}

	if answersMatch(canonical, answerText) {
		result.Score = question.Marks
		result.Correctness = models.CorrectnessCorrect
		return
	}

	if question.AllowPartialCredit && hasModelAnswer(question) {
		result.Pending = true
		result.Correctness = models.CorrectnessPending
	}
}

// canonicalFillAnswer prefers the explicit correct answer, falling back to
// the first whitespace-separated token of the model answer.
func canonicalFillAnswer(question *models.Question) string {
	if question.CorrectAnswer != nil {
		if trimmed := strings.TrimSpace(*question.CorrectAnswer); trimmed != "" {
			return trimmed
		}
	}
	if question.ModelAnswer != nil {
		fields := strings.Fields(*question.ModelAnswer)
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// answersMatch is the fill-in-blank comparison rule: trim both sides, then
// compare case-insensitively.
func answersMatch(expected, given string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(given))
}

func hasModelAnswer(question *models.Question) bool {
	return question.ModelAnswer != nil && strings.TrimSpace(*question.ModelAnswer) != ""
}

// ===== SHARED =====

// applyToAnswer mirrors a persisted evaluation into the in-memory row so
// later rollups in the same pass see fresh values.
func applyToAnswer(answer *models.StudentAnswer, eval repositories.AnswerEvaluation) {
	answer.Score = eval.Score
	answer.IsCorrect = eval.Correctness
	evaluatedAt := eval.EvaluatedAt
	answer.EvaluatedAt = &evaluatedAt
	evaluatedText := eval.EvaluatedText
	answer.EvaluatedText = &evaluatedText
}
