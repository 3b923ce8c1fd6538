// Package structured extracts JSON from model output and validates it against
// Go struct schemas.
package structured

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	jsonx "specpilot/internal/shared/json"
	"specpilot/internal/shared/logging"
)

// FieldError describes one failing field. Field uses the JSON path of the
// field, "$" for the document itself.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// SelfValidator is implemented by schema types with cross-field rules that
// struct tags cannot express.
type SelfValidator interface {
	ValidateSchema() []FieldError
}

// Result is either Ok with a value or a schema error with field failures.
type Result[T any] struct {
	value  T
	fields []FieldError
	ok     bool
	raw    string
}

// Ok reports whether the payload matched the schema.
func (r Result[T]) Ok() bool { return r.ok }

// Value returns the validated value. It is the zero value unless Ok.
func (r Result[T]) Value() T { return r.value }

// Fields returns the failures of a schema error.
func (r Result[T]) Fields() []FieldError { return append([]FieldError(nil), r.fields...) }

// JSON returns the extracted JSON payload, empty when none was found.
func (r Result[T]) JSON() string { return r.raw }

// Unwrap returns the value or a *SchemaValidationError.
func (r Result[T]) Unwrap() (T, error) {
	if r.ok {
		return r.value, nil
	}
	var zero T
	return zero, &SchemaValidationError{Fields: r.Fields(), Attempts: 1}
}

// SchemaValidationError is returned when model output never matched the schema.
type SchemaValidationError struct {
	Fields   []FieldError
	Attempts int
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("schema validation failed after %d attempt(s): %s", e.Attempts, strings.Join(parts, "; "))
}

// ValidationFailures lists the field-level messages.
func (e *SchemaValidationError) ValidationFailures() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.String())
	}
	return out
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func schemaValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Validate extracts JSON from raw, decodes it into T and checks validate tags
// and SelfValidator rules.
func Validate[T any](raw string) Result[T] {
	candidates := Candidates(raw)
	if len(candidates) == 0 {
		return Result[T]{fields: []FieldError{{Field: "$", Message: "no JSON object found in response"}}}
	}

	// The first candidate that decodes into T is validated; prose can contain
	// incidental brackets that are valid JSON of the wrong shape.
	var (
		value     T
		payload   string
		decodeErr error
	)
	for _, candidate := range candidates {
		var v T
		if err := jsonx.Unmarshal([]byte(candidate), &v); err != nil {
			if decodeErr == nil {
				decodeErr = err
				payload = candidate
			}
			continue
		}
		value, payload, decodeErr = v, candidate, nil
		break
	}
	if decodeErr != nil {
		return Result[T]{raw: payload, fields: []FieldError{{Field: "$", Message: decodeMessage(decodeErr)}}}
	}

	fields := structFailures(value)
	if sv, ok := any(&value).(SelfValidator); ok {
		fields = append(fields, sv.ValidateSchema()...)
	}
	if len(fields) > 0 {
		return Result[T]{raw: payload, fields: fields}
	}
	return Result[T]{value: value, ok: true, raw: payload}
}

func structFailures(value any) []FieldError {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := schemaValidator().Struct(value)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return []FieldError{{Field: "$", Message: err.Error()}}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fieldPath(fe.Namespace()), Message: tagMessage(fe)})
	}
	return fields
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if isSized(fe.Kind()) {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if isSized(fe.Kind()) {
			return fmt.Sprintf("must contain at most %s item(s)", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "dive":
		return "has an invalid element"
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
}

func isSized(kind reflect.Kind) bool {
	switch kind {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return true
	default:
		return false
	}
}

func decodeMessage(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, "json: ")
	return "invalid JSON shape: " + msg
}

// Reinvoker asks the model again with feedback describing the failed fields
// and returns the new raw text.
type Reinvoker func(ctx context.Context, feedback string) (string, error)

// Options control ParseAndValidate.
type Options struct {
	Retry      bool
	MaxRetries int
	Reinvoke   Reinvoker
	Logger     logging.Logger
}

// ParseAndValidate validates raw and, when retry is enabled, re-invokes the
// model with field-level feedback up to MaxRetries times. Exhaustion yields a
// *SchemaValidationError; reinvocation errors are returned as-is.
func ParseAndValidate[T any](ctx context.Context, raw string, opts Options) (T, error) {
	logger := logging.OrNop(opts.Logger)
	var zero T
	attempts := 1
	result := Validate[T](raw)
	for !result.Ok() && opts.Retry && opts.Reinvoke != nil && attempts <= opts.MaxRetries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		feedback := Feedback(result.Fields())
		logger.Debug("structured output rejected (attempt %d): %s", attempts, feedback)
		next, err := opts.Reinvoke(ctx, feedback)
		if err != nil {
			return zero, err
		}
		attempts++
		result = Validate[T](next)
	}
	if result.Ok() {
		return result.Value(), nil
	}
	return zero, &SchemaValidationError{Fields: result.Fields(), Attempts: attempts}
}

// Feedback renders field failures as a correction note appended to the prompt.
func Feedback(fields []FieldError) string {
	var b strings.Builder
	b.WriteString("Your previous response did not match the required JSON schema:\n")
	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	b.WriteString("Reply again with only the corrected JSON object.")
	return b.String()
}
