package condition

// Step records the outcome of one condition during aggregation.
type Step struct {
	Condition Condition `json:"condition"`
	Matched   bool      `json:"matched"`
	// Result is the accumulated value after this condition was folded in.
	Result bool `json:"result"`
}

// Outcome is the full trace of an aggregation.
type Outcome struct {
	Matched bool   `json:"matched"`
	Steps   []Step `json:"steps"`
}

// EvaluateAll folds conds over rec strictly left to right. The running
// result starts at true and each condition combines with it using its own
// Logic, so [C1 AND, C2 AND, C3 OR] is ((C1 && C2) || C3). AND does not
// bind tighter than OR. An empty list never matches.
func EvaluateAll(rec Record, conds []Condition) bool {
	return Trace(rec, conds).Matched
}

// Trace is EvaluateAll that also reports every step. All conditions are
// evaluated, in the order given; the slice is never reordered.
func Trace(rec Record, conds []Condition) Outcome {
	if len(conds) == 0 {
		return Outcome{Matched: false}
	}

	steps := make([]Step, 0, len(conds))
	result := true
	for _, c := range conds {
		matched := Evaluate(rec, c)
		if c.Logic == Or {
			result = result || matched
		} else {
			result = result && matched
		}
		steps = append(steps, Step{Condition: c, Matched: matched, Result: result})
	}
	return Outcome{Matched: result, Steps: steps}
}
