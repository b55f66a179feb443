// Package condition evaluates push conditions: ordered lists of field tests
// joined by AND/OR that decide whether a record is routed to another
// department.
//
// Evaluation never fails. Missing fields, nil values and non-numeric
// operands resolve to "does not match" so a bad record can not abort the
// workflow that asked.
package condition

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Logic joins a condition to the result accumulated before it.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// Valid reports whether l is AND or OR.
func (l Logic) Valid() bool { return l == And || l == Or }

// ParseLogic converts a stored logic operator; the empty string means AND.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return And, nil
	case "OR":
		return Or, nil
	}
	return "", fmt.Errorf("unknown logic operator %q", s)
}

// Record is a read-only view of one record: field name to string, number,
// bool or nil.
type Record map[string]any

// Condition is one field test. Logic says how its outcome combines with the
// result of the conditions before it.
type Condition struct {
	FieldName string   `json:"field_name" toml:"field_name"`
	Operator  Operator `json:"operator" toml:"operator"`
	Value     *string  `json:"value,omitempty" toml:"value,omitempty"`
	Logic     Logic    `json:"logic_operator" toml:"logic_operator"`
	Order     int      `json:"condition_order" toml:"condition_order"`
}

// String renders the condition for logs, e.g. `AND Status equals "Done"`.
func (c Condition) String() string {
	logic := c.Logic
	if logic == "" {
		logic = And
	}
	if !c.Operator.RequiresValue() {
		return fmt.Sprintf("%s %s %s", logic, c.FieldName, c.Operator)
	}
	v := ""
	if c.Value != nil {
		v = *c.Value
	}
	return fmt.Sprintf("%s %s %s %q", logic, c.FieldName, c.Operator, v)
}

// Evaluate tests a single condition against rec.
func Evaluate(rec Record, c Condition) bool {
	v, ok := rec[c.FieldName]
	return Apply(c.Operator, v, ok, c.Value)
}

// Str returns a pointer to s, for building conditions in code.
func Str(s string) *string { return &s }

// Ordered returns a copy of conds stably sorted by Order. Stores use it when
// loading a rule set; the aggregator itself never sorts.
func Ordered(conds []Condition) []Condition {
	out := make([]Condition, len(conds))
	copy(out, conds)
	slices.SortStableFunc(out, func(a, b Condition) int { return cmp.Compare(a.Order, b.Order) })
	return out
}
