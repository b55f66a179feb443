package formula

import (
	"strconv"
	"strings"
)

// Node is a formula AST node. The set of implementations is closed:
// *Literal, *FieldAccess and *BinaryOp.
type Node interface {
	node()
	// Pos returns the rune offset of the node's first token.
	Pos() int
}

// Literal is a numeric constant.
type Literal struct {
	Value  float64
	Offset int
}

// FieldAccess reads a named record field.
type FieldAccess struct {
	Name   string
	Offset int
}

// BinaryOp applies Op to Left and Right. Offset is the position of the
// operator token (or of the '-' for a unary minus).
type BinaryOp struct {
	Op     Operator
	Left   Node
	Right  Node
	Offset int
}

func (*Literal) node()     {}
func (*FieldAccess) node() {}
func (*BinaryOp) node()    {}

func (n *Literal) Pos() int     { return n.Offset }
func (n *FieldAccess) Pos() int { return n.Offset }
func (n *BinaryOp) Pos() int    { return n.Offset }

// Expr is a parsed formula.
type Expr struct {
	Source string
	Root   Node
}

// Fields returns the distinct field names referenced by the formula in
// depth-first, left-to-right order.
func (e *Expr) Fields() []string {
	var names []string
	seen := make(map[string]struct{})
	walkFields(e.Root, func(f *FieldAccess) bool {
		if _, ok := seen[f.Name]; !ok {
			seen[f.Name] = struct{}{}
			names = append(names, f.Name)
		}
		return true
	})
	return names
}

// String renders the expression fully parenthesised, which makes the parsed
// precedence explicit.
func (e *Expr) String() string {
	var b strings.Builder
	writeNode(&b, e.Root)
	return b.String()
}

// walkFields visits FieldAccess nodes depth-first, left to right, stopping
// when fn returns false. It reports whether the walk ran to completion.
func walkFields(n Node, fn func(*FieldAccess) bool) bool {
	switch n := n.(type) {
	case *FieldAccess:
		return fn(n)
	case *BinaryOp:
		return walkFields(n.Left, fn) && walkFields(n.Right, fn)
	}
	return true
}

func writeNode(b *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Literal:
		b.WriteString(strconv.FormatFloat(n.Value, 'f', -1, 64))
	case *FieldAccess:
		b.WriteString("[" + n.Name + "]")
	case *BinaryOp:
		b.WriteByte('(')
		writeNode(b, n.Left)
		b.WriteString(" " + n.Op.String() + " ")
		writeNode(b, n.Right)
		b.WriteByte(')')
	}
}
