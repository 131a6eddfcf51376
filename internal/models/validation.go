package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global validator instance
var validate = validator.New()

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// ValidateTarget checks a target record received from a registry
func ValidateTarget(t Target) error {
	if err := ValidateStruct(t); err != nil {
		return fmt.Errorf("target %q: %w", t.ID, err)
	}
	return nil
}

// ValidateOverride checks a caller supplied override
func ValidateOverride(o Override) error {
	return ValidateStruct(o)
}

// ValidateStruct validates any tagged struct and returns detailed errors
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	validationErrs := &ValidationErrors{}
	for _, e := range fieldErrs {
		validationErrs.Errors = append(validationErrs.Errors, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatValidationMessage(e),
		})
	}
	return validationErrs
}

// formatValidationMessage creates human-readable error messages
func formatValidationMessage(e validator.FieldError) string {
	field := toSnakeCase(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if e.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
// Runs of capitals stay together, so OSFamily becomes os_family.
func toSnakeCase(s string) string {
	runes := []rune(s)
	var result strings.Builder
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			prevLower := i > 0 && runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i > 0 && i+1 < len(runes) && runes[i-1] >= 'A' && runes[i-1] <= 'Z' &&
				runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				result.WriteByte('_')
			}
			result.WriteRune(r + 'a' - 'A')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
