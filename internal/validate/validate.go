// Package validate wraps go-playground/validator with the struct tags used by
// tripflow's configuration records and turns failures into messages keyed by
// JSON field name.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/liamcoop/tripflow/condition"
)

var v *validator.Validate

func init() {
	v = validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		return condition.Operator(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("logic", func(fl validator.FieldLevel) bool {
		return condition.Logic(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("nobrackets", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "[]")
	})
}

var messages = map[string]string{
	"required":    "is required",
	"max":         "must be at most %s characters",
	"min":         "must be at least %s",
	"gt":          "must be greater than %s",
	"gte":         "must be greater than or equal to %s",
	"lte":         "must be less than or equal to %s",
	"url":         "must be a valid URL",
	"required_if": "is required when %s",
	"oneof":       "must be one of: %s",
	"nefield":     "must differ from %s",
	"operator":    "is not a known condition operator",
	"logic":       "must be AND or OR",
	"nobrackets":  "must not contain '[' or ']'",
}

// Error lists every failed field with a readable message.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Struct validates s against its `validate` tags. It returns nil or an *Error.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := &Error{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

// Fields returns the per-field messages of err, or nil when err is not a
// validation error.
func Fields(err error) map[string]string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

func message(fe validator.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid (" + fe.Tag() + ")"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}

// Var validates a single value against tag, for example "email" or "url".
func Var(value any, tag string) error {
	return v.Var(value, tag)
}
