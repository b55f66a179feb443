package condition

import (
	"fmt"
	"strings"
)

// Operator names one of the twelve comparisons a push condition can make.
// The string values are the identifiers stored in configuration.
type Operator string

const (
	Equals         Operator = "equals"
	NotEquals      Operator = "not_equals"
	Contains       Operator = "contains"
	NotContains    Operator = "not_contains"
	StartsWith     Operator = "starts_with"
	EndsWith       Operator = "ends_with"
	GreaterThan    Operator = "greater_than"
	LessThan       Operator = "less_than"
	GreaterOrEqual Operator = "greater_or_equal"
	LessOrEqual    Operator = "less_or_equal"
	IsEmpty        Operator = "is_empty"
	IsNotEmpty     Operator = "is_not_empty"
)

// Operators lists every supported operator in display order.
var Operators = []Operator{
	Equals, NotEquals,
	Contains, NotContains,
	StartsWith, EndsWith,
	GreaterThan, LessThan, GreaterOrEqual, LessOrEqual,
	IsEmpty, IsNotEmpty,
}

// opFunc compares the string form of a present field value with the
// comparison value.
type opFunc func(field, cmp string) bool

// table holds the operator implementations. String tests are case-sensitive.
var table = map[Operator]opFunc{
	Equals:         func(f, c string) bool { return f == c },
	NotEquals:      func(f, c string) bool { return f != c },
	Contains:       strings.Contains,
	NotContains:    func(f, c string) bool { return !strings.Contains(f, c) },
	StartsWith:     strings.HasPrefix,
	EndsWith:       strings.HasSuffix,
	GreaterThan:    numeric(func(a, b float64) bool { return a > b }),
	LessThan:       numeric(func(a, b float64) bool { return a < b }),
	GreaterOrEqual: numeric(func(a, b float64) bool { return a >= b }),
	LessOrEqual:    numeric(func(a, b float64) bool { return a <= b }),
	IsEmpty:        func(f, _ string) bool { return f == "" },
	IsNotEmpty:     func(f, _ string) bool { return f != "" },
}

// numeric lifts a float comparison into an opFunc that is false whenever
// either side does not parse as a number.
func numeric(cmp func(a, b float64) bool) opFunc {
	return func(f, c string) bool {
		a, ok := toNumber(f)
		if !ok {
			return false
		}
		b, ok := toNumber(c)
		if !ok {
			return false
		}
		return cmp(a, b)
	}
}

// Valid reports whether op is one of the twelve known operators.
func (op Operator) Valid() bool {
	_, ok := table[op]
	return ok
}

// RequiresValue reports whether op compares against a value. is_empty and
// is_not_empty ignore it.
func (op Operator) RequiresValue() bool {
	return op != IsEmpty && op != IsNotEmpty
}

// Numeric reports whether op is an ordering comparison.
func (op Operator) Numeric() bool {
	switch op {
	case GreaterThan, LessThan, GreaterOrEqual, LessOrEqual:
		return true
	}
	return false
}

// ParseOperator converts a stored operator name.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	if !op.Valid() {
		return "", fmt.Errorf("unknown condition operator %q", s)
	}
	return op, nil
}

// Apply evaluates op for one field value. present is false when the record
// has no such field; cmp is the configured comparison value, nil meaning
// none. A missing or nil field only satisfies is_empty. Unknown operators
// never match.
func Apply(op Operator, value any, present bool, cmp *string) bool {
	fn, ok := table[op]
	if !ok {
		return false
	}
	if !present || value == nil {
		return op == IsEmpty
	}
	c := ""
	if cmp != nil {
		c = *cmp
	}
	return fn(Stringify(value), c)
}
