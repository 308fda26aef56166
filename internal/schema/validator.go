package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates alerts and definition structs tagged with `validate`.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate validates an alert.
func (v *Validator) Validate(alert *Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if err := v.validate.Struct(alert); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// Struct validates any struct carrying `validate` tags.
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
