package formula

import "unicode/utf8"

// Parse lexes and parses a formula into an expression tree. Either the whole
// input reduces to a single root node or a *Error is returned.
//
// Grammar:
//
//	expr   := term (('+' | '-') term)*
//	term   := factor (('*' | '/') factor)*
//	factor := NUMBER | FIELD | '(' expr ')' | '-' factor
func Parse(src string) (*Expr, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	if onlyParens(toks) {
		return nil, &Error{Kind: EmptyExpression, Pos: -1, Msg: "formula has no operands"}
	}
	if err := checkBalance(toks); err != nil {
		return nil, err
	}

	p := &parser{toks: toks, end: utf8.RuneCountInString(src)}
	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.i < len(p.toks) {
		t := p.toks[p.i]
		return nil, syntaxErr(t.Pos, "unexpected %s after complete expression", t)
	}
	return &Expr{Source: src, Root: root}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func onlyParens(toks []Token) bool {
	for _, t := range toks {
		if t.Kind != TokenLParen && t.Kind != TokenRParen {
			return false
		}
	}
	return true
}

// checkBalance reports the first ')' without an opener, or else the first
// '(' that is never closed.
func checkBalance(toks []Token) error {
	var open []int
	for _, t := range toks {
		switch t.Kind {
		case TokenLParen:
			open = append(open, t.Pos)
		case TokenRParen:
			if len(open) == 0 {
				return &Error{Kind: UnbalancedParens, Pos: t.Pos, Msg: "')' has no matching '('"}
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return &Error{Kind: UnbalancedParens, Pos: open[0], Msg: "'(' is never closed"}
	}
	return nil
}

type parser struct {
	toks []Token
	i    int
	end  int
}

func (p *parser) peek() (Token, bool) {
	if p.i >= len(p.toks) {
		return Token{}, false
	}
	return p.toks[p.i], true
}

func (p *parser) peekOp(ops ...Operator) (Token, bool) {
	t, ok := p.peek()
	if !ok || t.Kind != TokenOperator {
		return Token{}, false
	}
	for _, op := range ops {
		if t.Op == op {
			return t, true
		}
	}
	return Token{}, false
}

func (p *parser) expr() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peekOp(OpPlus, OpMinus)
		if !ok {
			return left, nil
		}
		p.i++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: t.Op, Left: left, Right: right, Offset: t.Pos}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peekOp(OpStar, OpSlash)
		if !ok {
			return left, nil
		}
		p.i++
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: t.Op, Left: left, Right: right, Offset: t.Pos}
	}
}

func (p *parser) factor() (Node, error) {
	t, ok := p.peek()
	if !ok {
		if p.i > 0 {
			prev := p.toks[p.i-1]
			return nil, syntaxErr(p.end, "expected operand after %s", prev)
		}
		return nil, syntaxErr(p.end, "expected operand")
	}

	switch t.Kind {
	case TokenNumber:
		p.i++
		return &Literal{Value: t.Num, Offset: t.Pos}, nil

	case TokenField:
		p.i++
		return &FieldAccess{Name: t.Field, Offset: t.Pos}, nil

	case TokenLParen:
		p.i++
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.Kind != TokenRParen {
			// checkBalance guarantees a ')' exists somewhere, so anything else
			// here is a misplaced token.
			pos := p.end
			if ok {
				pos = closing.Pos
			}
			return nil, syntaxErr(pos, "expected ')'")
		}
		p.i++
		return inner, nil

	case TokenOperator:
		if t.Op == OpMinus {
			p.i++
			operand, err := p.factor()
			if err != nil {
				return nil, err
			}
			return &BinaryOp{
				Op:     OpMinus,
				Left:   &Literal{Value: 0, Offset: t.Pos},
				Right:  operand,
				Offset: t.Pos,
			}, nil
		}
	}
	return nil, syntaxErr(t.Pos, "expected operand, found %s", t)
}
