// Package formula parses, validates and evaluates the arithmetic formulas
// that drive auto-calculated record fields.
//
// A formula combines numbers and bracketed field references with + - * / and
// parentheses:
//
//	([Gia_ca] + [Khoan_luong]) / 2
//
// The package is a small hand-written interpreter; it never hands formula
// text to a general purpose evaluator. All functions are pure and safe for
// concurrent use.
package formula

// Evaluate parses expression, validates it against the keys of fields and
// evaluates it.
func Evaluate(expression string, fields map[string]float64) (float64, error) {
	e, err := Parse(expression)
	if err != nil {
		return 0, err
	}
	if err := Validate(e, FieldSetOf(fields)); err != nil {
		return 0, err
	}
	return e.Eval(fields)
}

// ValidateExpression parses expression and checks its field references
// against known. It is what a formula editor calls before saving.
func ValidateExpression(expression string, known FieldSet) error {
	e, err := Parse(expression)
	if err != nil {
		return err
	}
	return Validate(e, known)
}

// DependentFields returns the fields a formula reads, in order of first use.
func DependentFields(expression string) ([]string, error) {
	e, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	return e.Fields(), nil
}
