package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"x-auto-post-tool/internal/common/errors"
)

var repositoryPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})/[A-Za-z0-9._-]{1,100}$`)

// FieldError is a single failed rule, keyed by the field's json name.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// StructValidator validates structs through their `validate` tags.
type StructValidator struct {
	validate *validator.Validate
}

// NewStructValidator creates a validator with the project's custom tags registered.
func NewStructValidator() *StructValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	registerValidators(v)

	// report json names so messages match what API callers send
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &StructValidator{validate: v}
}

// Struct validates s and returns a validation AppError listing every failed field.
func (sv *StructValidator) Struct(s interface{}) error {
	if err := sv.validate.Struct(s); err != nil {
		return toAppError(fieldErrors(err))
	}
	return nil
}

// Fields validates s and returns the individual failures, nil when valid.
func (sv *StructValidator) Fields(s interface{}) []FieldError {
	if err := sv.validate.Struct(s); err != nil {
		return fieldErrors(err)
	}
	return nil
}

func toAppError(fields []FieldError) error {
	if len(fields) == 1 {
		return errors.ValidationError(fields[0].Message)
	}

	messages := make([]string, len(fields))
	for i, f := range fields {
		messages[i] = f.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func fieldErrors(err error) []FieldError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: formatFieldError(fe),
			Param:   fe.Param(),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "repository":
		return fmt.Sprintf("field '%s' must look like owner/name", err.Field())
	case "scope":
		return fmt.Sprintf("field '%s' must not contain whitespace", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerValidators(v *validator.Validate) {
	_ = v.RegisterValidation("repository", func(fl validator.FieldLevel) bool {
		return repositoryPattern.MatchString(fl.Field().String())
	})

	_ = v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && !strings.ContainsAny(s, " \t\r\n")
	})
}

var globalValidator = NewStructValidator()

// ValidateStruct validates s with the shared validator instance.
func ValidateStruct(s interface{}) error {
	return globalValidator.Struct(s)
}
