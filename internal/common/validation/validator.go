// Package validation checks inputs and configuration before they reach the
// credential and posting code.
//
// Struct inputs are validated through go-playground/validator tags
// (ValidateStruct); settings that are easier to express imperatively use the
// accumulating Validator.
package validation

import (
	"fmt"
	"net/url"
	"strings"

	"x-auto-post-tool/internal/common/errors"
)

// Validator accumulates validation errors
type Validator struct {
	problems []string
	prefix   string
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// NewValidatorWithPrefix creates a validator whose messages start with prefix
func NewValidatorWithPrefix(prefix string) *Validator {
	return &Validator{prefix: prefix}
}

// RequireString validates that a string is not blank
func (v *Validator) RequireString(value, name string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.addError("%s is required", name)
	}
	return v
}

// RequirePositive validates that an integer is positive
func (v *Validator) RequirePositive(value int, name string) *Validator {
	if value <= 0 {
		v.addError("%s must be positive", name)
	}
	return v
}

// RequireURL validates that a string is an absolute URL
func (v *Validator) RequireURL(value, name string) *Validator {
	if value == "" {
		v.addError("%s is required", name)
		return v
	}

	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("%s must be a complete URL with scheme and host", name)
	}
	return v
}

// RequireOneOf validates that value is one of allowed
func (v *Validator) RequireOneOf(value string, allowed []string, name string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.addError("%s must be one of: %s", name, strings.Join(allowed, ", "))
	return v
}

// RequireMinLength validates that a string has a minimum length
func (v *Validator) RequireMinLength(value string, minLength int, name string) *Validator {
	if len(value) < minLength {
		v.addError("%s must be at least %d characters long", name, minLength)
	}
	return v
}

// Validate runs a custom validation function
func (v *Validator) Validate(fn func() error) *Validator {
	if err := fn(); err != nil {
		v.addError("%s", err.Error())
	}
	return v
}

func (v *Validator) addError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if v.prefix != "" {
		msg = v.prefix + ": " + msg
	}
	v.problems = append(v.problems, msg)
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.problems) > 0
}

// Error returns a validation AppError, or nil if there are no errors
func (v *Validator) Error() error {
	switch len(v.problems) {
	case 0:
		return nil
	case 1:
		return errors.ValidationError(v.problems[0])
	default:
		return errors.ValidationError("validation failed: " + strings.Join(v.problems, "; "))
	}
}
