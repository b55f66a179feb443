package formula

import (
	"strconv"
	"strings"
	"unicode"
)

// Lex splits a formula into tokens. It stops at the first character that
// cannot start a token and reports it as a SyntaxError.
func Lex(src string) ([]Token, error) {
	l := &lexer{src: []rune(src)}
	return l.run()
}

type lexer struct {
	src  []rune
	pos  int
	toks []Token
}

func (l *lexer) run() ([]Token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case unicode.IsSpace(c):
			l.pos++

		case isDigit(c) || c == '.':
			if err := l.number(); err != nil {
				return nil, err
			}

		case c == '[':
			if err := l.field(); err != nil {
				return nil, err
			}

		case c == ']':
			return nil, syntaxErr(l.pos, "unexpected ']' without matching '['")

		case c == '+' || c == '-' || c == '*' || c == '/':
			l.emit(Token{Kind: TokenOperator, Op: Operator(c), Pos: l.pos})
			l.pos++

		case c == '(':
			l.emit(Token{Kind: TokenLParen, Pos: l.pos})
			l.pos++

		case c == ')':
			l.emit(Token{Kind: TokenRParen, Pos: l.pos})
			l.pos++

		default:
			return nil, syntaxErr(l.pos, "unexpected character %q", c)
		}
	}
	return l.toks, nil
}

func (l *lexer) emit(t Token) { l.toks = append(l.toks, t) }

// number reads digits with at most one decimal point. Exponents are not part
// of the grammar, so "1e3" lexes as 1 followed by an invalid 'e'.
func (l *lexer) number() error {
	start := l.pos
	digits, dots := 0, 0
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isDigit(c) {
			digits++
		} else if c == '.' {
			dots++
			if dots > 1 {
				return syntaxErr(l.pos, "malformed number %q", string(l.src[start:l.pos+1]))
			}
		} else {
			break
		}
		l.pos++
	}
	text := string(l.src[start:l.pos])
	if digits == 0 {
		return syntaxErr(start, "malformed number %q", text)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return syntaxErr(start, "malformed number %q", text)
	}
	l.emit(Token{Kind: TokenNumber, Num: v, Pos: start})
	return nil
}

// field reads a bracketed field reference. The name is kept verbatim.
func (l *lexer) field() error {
	start := l.pos
	end := -1
	for i := start + 1; i < len(l.src); i++ {
		if l.src[i] == ']' {
			end = i
			break
		}
	}
	if end < 0 {
		return syntaxErr(start, "unterminated field reference")
	}
	name := string(l.src[start+1 : end])
	if strings.TrimSpace(name) == "" {
		return syntaxErr(start, "empty field reference []")
	}
	l.emit(Token{Kind: TokenField, Field: name, Pos: start})
	l.pos = end + 1
	return nil
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }
