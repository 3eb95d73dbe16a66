package validator

// Validator is the service-facing entry point combining struct validation
// with domain business rules.
type Validator struct {
	*BusinessValidator
}

// New creates a fully registered validator.
func New() *Validator {
	return &Validator{BusinessValidator: NewBusinessValidator()}
}
