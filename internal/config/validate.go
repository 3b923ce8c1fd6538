package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ValidationFailures lets callers treat configuration problems like other
// validation failures.
func (e *ValidationError) ValidationFailures() []string {
	return append([]string(nil), e.Problems...)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks ranges and enumerations and reports problems by key.
func (c Config) Validate() error {
	var problems []string

	err := configValidator().Struct(c)
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
	case errors.As(err, &fieldErrs):
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	default:
		return fmt.Errorf("validate config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		problems = append(problems, "observability."+err.Error())
	}
	if len(c.Router.Checklist) > 0 && !hasRequired(c.Router.Checklist) {
		problems = append(problems, "router.checklist: must contain at least one required field")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func hasRequired(items []ChecklistItem) bool {
	for _, item := range items {
		if item.Required {
			return true
		}
	}
	return false
}

func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if idx := strings.Index(key, "."); idx >= 0 {
		key = key[idx+1:]
	}
	parent := ""
	if idx := strings.LastIndex(key, "."); idx >= 0 {
		parent = key[:idx+1]
	}

	var msg string
	switch fe.Tag() {
	case "required", "required_unless":
		msg = "is required"
	case "gte", "min":
		msg = "must be at least " + fe.Param()
	case "lte", "max":
		msg = "must be at most " + fe.Param()
	case "gt":
		msg = "must be greater than " + fe.Param()
	case "lt":
		msg = "must be less than " + fe.Param()
	case "ltfield":
		msg = "must be less than " + parent + snakeCase(fe.Param())
	case "gtefield":
		msg = "must be at least " + parent + snakeCase(fe.Param())
	case "oneof":
		msg = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url":
		msg = "must be a valid URL"
	default:
		msg = "failed " + fe.Tag()
	}
	return fmt.Sprintf("%s: %s (got %v)", key, msg, fe.Value())
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
