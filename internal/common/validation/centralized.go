// Package validation wraps go-playground/validator with the error formatting
// and enum tags used by the cache configuration.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"aimake-cache/internal/common/errors"

	"github.com/go-playground/validator/v10"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
	enums     map[string][]string
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// NewCentralizedValidator creates a new centralized validator instance
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	// Report env-style names from the `env` tag, then json, then the Go name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"env", "json"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return &CentralizedValidator{
		validator: v,
		enums:     make(map[string][]string),
	}
}

// RegisterEnum registers a tag that accepts exactly the given string values.
// Matching is case-insensitive.
func (cv *CentralizedValidator) RegisterEnum(tag string, allowed ...string) error {
	values := append([]string(nil), allowed...)
	cv.enums[tag] = values

	return cv.validator.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		got := strings.ToLower(fl.Field().String())
		for _, v := range values {
			if got == strings.ToLower(v) {
				return true
			}
		}
		return false
	})
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// Errors returns the structured errors for s, or nil when s is valid
func (cv *CentralizedValidator) Errors(s interface{}) []ValidationError {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return cv.extractValidationErrors(err)
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	validationErrors := cv.extractValidationErrors(err)
	if len(validationErrors) == 1 {
		return errors.ValidationError(validationErrors[0].Message)
	}

	messages := make([]string, len(validationErrors))
	for i, e := range validationErrors {
		messages[i] = e.Message
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   fieldError.Field(),
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: cv.formatFieldError(fieldError),
				Param:   fieldError.Param(),
			})
		}
	} else {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "unknown",
			Tag:     "error",
			Message: err.Error(),
		})
	}

	return validationErrors
}

func (cv *CentralizedValidator) formatFieldError(err validator.FieldError) string {
	if allowed, ok := cv.enums[err.Tag()]; ok {
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), strings.Join(allowed, ", "))
	}

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max", "lte":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "hostname_rfc1123", "hostname":
		return fmt.Sprintf("field '%s' must be a valid hostname", err.Field())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}
