package formula

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a formula failure.
type ErrorKind int

const (
	SyntaxError ErrorKind = iota + 1
	UnknownField
	DivisionByZero
	UnbalancedParens
	EmptyExpression
)

func (k ErrorKind) String() string {
	switch k {
	case SyntaxError:
		return "syntax error"
	case UnknownField:
		return "unknown field"
	case DivisionByZero:
		return "division by zero"
	case UnbalancedParens:
		return "unbalanced parentheses"
	case EmptyExpression:
		return "empty expression"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrSyntax           = &Error{Kind: SyntaxError, Pos: -1}
	ErrUnknownField     = &Error{Kind: UnknownField, Pos: -1}
	ErrDivisionByZero   = &Error{Kind: DivisionByZero, Pos: -1}
	ErrUnbalancedParens = &Error{Kind: UnbalancedParens, Pos: -1}
	ErrEmptyExpression  = &Error{Kind: EmptyExpression, Pos: -1}
)

// Error is the single error type produced by lexing, parsing, validating and
// evaluating formulas. Pos is a rune offset into the formula text, or -1 when
// the failure has no location (for example a division by zero).
type Error struct {
	Kind  ErrorKind
	Pos   int
	Field string
	Msg   string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Kind == UnknownField:
		msg = fmt.Sprintf("%s %q", msg, e.Field)
	case e.Msg != "":
		msg = msg + ": " + e.Msg
	}
	if e.Pos >= 0 {
		msg = fmt.Sprintf("%s (at position %d)", msg, e.Pos)
	}
	return msg
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func syntaxErr(pos int, format string, args ...any) *Error {
	return &Error{Kind: SyntaxError, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func unknownFieldErr(name string, pos int) *Error {
	return &Error{Kind: UnknownField, Pos: pos, Field: name}
}

// KindOf returns the ErrorKind of err, or 0 if err is not a formula error.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
