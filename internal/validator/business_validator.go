package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/classmetrics/evaluation-service/internal/models"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateQuestionDefinition checks that a question is gradable at all.
// Evaluation degrades gracefully when these fail at runtime, but questions
// should never be persisted in such a state.
func (bv *BusinessValidator) ValidateQuestionDefinition(q *models.Question) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(q)...)

	if q.Marks <= 0 {
		errors = append(errors, ValidationError{
			Field:   "marks",
			Message: "must be greater than zero",
			Value:   q.Marks,
			Rule:    "business_logic",
		})
	}

	switch q.Type {
	case models.MultipleChoice:
		correct := 0
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct++
			}
		}
		if len(q.Options) < 2 {
			errors = append(errors, ValidationError{
				Field:   "options",
				Message: "multiple-choice question needs at least two options",
				Value:   len(q.Options),
				Rule:    "business_logic",
			})
		}
		if correct != 1 {
			errors = append(errors, ValidationError{
				Field:   "options",
				Message: "multiple-choice question needs exactly one correct option",
				Value:   correct,
				Rule:    "business_logic",
			})
		}

	case models.FillInBlank:
		if !hasText(q.CorrectAnswer) && !hasText(q.ModelAnswer) {
			errors = append(errors, ValidationError{
				Field:   "correct_answer",
				Message: "fill-in-blank question needs a correct answer or a model answer",
				Rule:    "business_logic",
			})
		}

	case models.OpenEnded:
		if !hasText(q.ModelAnswer) {
			errors = append(errors, ValidationError{
				Field:   "model_answer",
				Message: "open-ended question needs a model answer for grading",
				Rule:    "business_logic",
			})
		}
	}

	return errors
}

// ValidateSubmission validates an attempt submission request.
func (bv *BusinessValidator) ValidateSubmission(req interface{}, attemptStatus models.AttemptStatus) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)

	if attemptStatus != models.AttemptInProgress {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: "attempt is not in progress",
			Value:   attemptStatus,
			Rule:    "business_logic",
		})
	}

	return errors
}

// registerBusinessRules registers custom business rule validators
func (bv *BusinessValidator) registerBusinessRules() {
	// question type validation
	bv.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return models.QuestionType(fl.Field().String()).IsValid()
	})
}

func hasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
