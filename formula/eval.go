package formula

// Eval computes the value of the expression. A field that is missing from
// values yields UnknownField and a zero divisor yields DivisionByZero; either
// aborts the whole evaluation. The result is not rounded.
func (e *Expr) Eval(values map[string]float64) (float64, error) {
	return eval(e.Root, values)
}

func eval(n Node, values map[string]float64) (float64, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *FieldAccess:
		v, ok := values[n.Name]
		if !ok {
			return 0, unknownFieldErr(n.Name, n.Offset)
		}
		return v, nil

	case *BinaryOp:
		l, err := eval(n.Left, values)
		if err != nil {
			return 0, err
		}
		r, err := eval(n.Right, values)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case OpPlus:
			return l + r, nil
		case OpMinus:
			return l - r, nil
		case OpStar:
			return l * r, nil
		case OpSlash:
			if r == 0 {
				return 0, &Error{Kind: DivisionByZero, Pos: n.Offset}
			}
			return l / r, nil
		}
		return 0, syntaxErr(n.Offset, "unsupported operator %s", n.Op)
	}
	return 0, syntaxErr(-1, "unsupported node %T", n)
}
