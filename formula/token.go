package formula

import "fmt"

// TokenKind identifies the lexical class of a Token.
type TokenKind int

const (
	TokenNumber TokenKind = iota
	TokenField
	TokenOperator
	TokenLParen
	TokenRParen
)

func (k TokenKind) String() string {
	switch k {
	case TokenNumber:
		return "number"
	case TokenField:
		return "field"
	case TokenOperator:
		return "operator"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Operator is one of the four arithmetic operators a formula may use.
type Operator byte

const (
	OpPlus  Operator = '+'
	OpMinus Operator = '-'
	OpStar  Operator = '*'
	OpSlash Operator = '/'
)

func (o Operator) String() string { return string(rune(o)) }

// Token is a single lexical unit of a formula. Pos is the rune offset of the
// token's first character in the source text.
type Token struct {
	Kind  TokenKind
	Num   float64
	Field string
	Op    Operator
	Pos   int
}

func (t Token) String() string {
	switch t.Kind {
	case TokenNumber:
		return fmt.Sprintf("%g", t.Num)
	case TokenField:
		return "[" + t.Field + "]"
	case TokenOperator:
		return t.Op.String()
	}
	return t.Kind.String()
}
