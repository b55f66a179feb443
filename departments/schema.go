// Package departments holds the per-department field schemas that records,
// formulas and push conditions are checked against.
package departments

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"

	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/validate"
)

// FieldType is the kind of value a field holds.
type FieldType string

const (
	Text     FieldType = "text"
	Number   FieldType = "number"
	Currency FieldType = "currency"
	Date     FieldType = "date"
	Dropdown FieldType = "dropdown"
	Checkbox FieldType = "checkbox"
	Email    FieldType = "email"
	Phone    FieldType = "phone"
	TextArea FieldType = "textarea"
	URL      FieldType = "url"
)

// FieldTypes lists the supported field types.
var FieldTypes = []FieldType{Text, Number, Currency, Date, Dropdown, Checkbox, Email, Phone, TextArea, URL}

// Valid reports whether t is one of FieldTypes.
func (t FieldType) Valid() bool { return slices.Contains(FieldTypes, t) }

// Numeric reports whether formulas may read fields of this type.
func (t FieldType) Numeric() bool { return t == Number || t == Currency }

// MaxFields caps the schema size of one department.
const MaxFields = 200

// FieldConfig describes one column of a department's records.
type FieldConfig struct {
	Name     string    `json:"field_name"`
	Type     FieldType `json:"field_type"`
	Required bool      `json:"is_required"`
	Options  []string  `json:"options,omitempty"`
	Order    int       `json:"display_order"`
	Active   bool      `json:"is_active"`
}

// Department is a unit that owns records and a field schema.
type Department struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Fields    []FieldConfig `json:"fields"`
	CreatedAt time.Time     `json:"created_at"`
}

// ActiveFields returns the active fields sorted by display order.
func (d *Department) ActiveFields() []FieldConfig {
	var out []FieldConfig
	for _, f := range d.Fields {
		if f.Active {
			out = append(out, f)
		}
	}
	slices.SortStableFunc(out, func(a, b FieldConfig) int { return a.Order - b.Order })
	return out
}

// KnownFields returns the names of the active fields.
func (d *Department) KnownFields() formula.FieldSet {
	fs := formula.NewFieldSet()
	for _, f := range d.ActiveFields() {
		fs[f.Name] = struct{}{}
	}
	return fs
}

// NumericFields returns the names of active number and currency fields.
func (d *Department) NumericFields() formula.FieldSet {
	fs := formula.NewFieldSet()
	for _, f := range d.ActiveFields() {
		if f.Type.Numeric() {
			fs[f.Name] = struct{}{}
		}
	}
	return fs
}

// ValidateSchema checks a field list before it is stored. Failures wrap
// ErrInvalid.
func ValidateSchema(fields []FieldConfig) error {
	if err := validateSchema(fields); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func validateSchema(fields []FieldConfig) error {
	if len(fields) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one field")
	}
	if len(fields) > MaxFields {
		return fmt.Errorf("schema contains %d fields, maximum allowed is %d", len(fields), MaxFields)
	}

	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if err := validateFieldName(f.Name); err != nil {
			return fmt.Errorf("field %d: invalid name %q: %w", i, f.Name, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true

		if !f.Type.Valid() {
			return fmt.Errorf("field %q has invalid type %q", f.Name, f.Type)
		}
		if f.Type == Dropdown && len(f.Options) == 0 {
			return fmt.Errorf("dropdown field %q must have at least one option", f.Name)
		}
		if f.Order < 0 {
			return fmt.Errorf("field %q has negative display order", f.Name)
		}
	}
	return nil
}

// validateFieldName enforces what a formula field reference can express:
// non-blank, at most 100 characters, no square brackets.
func validateFieldName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name cannot be empty")
	}
	if name != strings.TrimSpace(name) {
		return errors.New("name has leading or trailing whitespace")
	}
	if n := utf8.RuneCountInString(name); n > 100 {
		return fmt.Errorf("name length %d exceeds maximum of 100 characters", n)
	}
	if strings.ContainsAny(name, "[]") {
		return errors.New("name must not contain '[' or ']'")
	}
	return nil
}

// RecordError lists the invalid fields of a record.
type RecordError struct {
	Fields map[string]string
}

func (e *RecordError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for n := range e.Fields {
		names = append(names, n)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + e.Fields[n]
	}
	return "invalid record: " + strings.Join(parts, "; ")
}

// ValidateRecord checks rec against the active schema: required fields are
// present and typed fields hold a value of their type. Unknown keys are
// ignored.
func (d *Department) ValidateRecord(rec map[string]any) error {
	problems := make(map[string]string)
	for _, f := range d.ActiveFields() {
		v, ok := rec[f.Name]
		if !ok || v == nil || cast.ToString(v) == "" {
			if f.Required {
				problems[f.Name] = "is required"
			}
			continue
		}
		if msg := checkValue(f, v); msg != "" {
			problems[f.Name] = msg
		}
	}
	if len(problems) > 0 {
		return &RecordError{Fields: problems}
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

func checkValue(f FieldConfig, v any) string {
	s := strings.TrimSpace(cast.ToString(v))
	switch f.Type {
	case Number, Currency:
		if _, err := cast.ToFloat64E(s); err != nil {
			return "must be a number"
		}
	case Checkbox:
		if _, err := cast.ToBoolE(v); err != nil {
			return "must be true or false"
		}
	case Dropdown:
		if !slices.Contains(f.Options, s) {
			return "must be one of: " + strings.Join(f.Options, ", ")
		}
	case Email:
		if validate.Var(s, "email") != nil {
			return "must be a valid email address"
		}
	case URL:
		if validate.Var(s, "url") != nil {
			return "must be a valid URL"
		}
	case Phone:
		if validate.Var(strings.NewReplacer(" ", "", "-", "", ".", "").Replace(s), "e164|numeric") != nil {
			return "must be a valid phone number"
		}
	case Date:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return ""
			}
		}
		return "must be a date (YYYY-MM-DD or DD/MM/YYYY)"
	}
	return ""
}
