// Package expression evaluates small expression trees against a single
// input value and checks verifier conditions on the result.
package expression

import (
	"errors"
)

var (
	// ErrMalformedExpression is returned when an expression tree is
	// structurally wrong or applied to an input it cannot handle.
	ErrMalformedExpression = errors.New("malformed expression")
	// ErrInvalidNodeType is returned for a node type outside the known set.
	ErrInvalidNodeType = errors.New("invalid node type")
)

// NodeType enumerates expression node variants.
type NodeType string

const (
	NodeValue     NodeType = "VALUE"
	NodeSelf      NodeType = "SELF"
	NodeVariable  NodeType = "VARIABLE"
	NodeMap       NodeType = "MAP"
	NodeOperation NodeType = "OPERATION"
)

// Operator enumerates the operations an OPERATION node may apply.
type Operator string

const (
	OpAdd            Operator = "NUMERICALADD"
	OpMinus          Operator = "NUMERICALMINUS"
	OpMultiply       Operator = "NUMERICALMULTIPLY"
	OpDivide         Operator = "NUMERICALDIVIDE"
	OpPow            Operator = "NUMERICALPOW"
	OpConcat         Operator = "STRINGCONCAT"
	OpSubstr         Operator = "STRINGSUBSTR"
	OpTypeConversion Operator = "TYPECONVERSION"
)

// Conversion targets understood by TYPECONVERSION.
const (
	TargetInt    = "INT"
	TargetFloat  = "FLOAT"
	TargetString = "STRING"
)

// Node is one element of an expression tree. For VALUE nodes Value holds
// the literal, for VARIABLE nodes it holds the dotted path. MAP nodes keep
// their lookup table in Parameters.
type Node struct {
	Type       NodeType       `json:"type"`
	Operator   Operator       `json:"operator,omitempty"`
	Value      any            `json:"value,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Children   []Node         `json:"children,omitempty"`
}

// Literal returns a VALUE node.
func Literal(v any) Node {
	return Node{Type: NodeValue, Value: v}
}

// Self returns a SELF node.
func Self() Node {
	return Node{Type: NodeSelf}
}

// Var returns a VARIABLE node reading path from the input.
func Var(path string) Node {
	return Node{Type: NodeVariable, Value: path}
}

// MapOf returns a MAP node translating string inputs through table.
func MapOf(table map[string]any) Node {
	return Node{Type: NodeMap, Parameters: table}
}

// Op returns an OPERATION node.
func Op(op Operator, children ...Node) Node {
	return Node{Type: NodeOperation, Operator: op, Children: children}
}

// ToInt converts the result of n into an integer.
func ToInt(n Node) Node {
	return Op(OpTypeConversion, Literal(TargetInt), n)
}

// ToFloat converts the result of n into a float.
func ToFloat(n Node) Node {
	return Op(OpTypeConversion, Literal(TargetFloat), n)
}

// ToString converts the result of n into a string.
func ToString(n Node) Node {
	return Op(OpTypeConversion, Literal(TargetString), n)
}

func arity(op Operator) (lo, hi int, ok bool) {
	switch op {
	case OpAdd, OpMinus, OpMultiply, OpDivide, OpPow:
		return 2, 2, true
	case OpConcat:
		return 1, -1, true
	case OpSubstr:
		return 3, 3, true
	case OpTypeConversion:
		return 2, 2, true
	default:
		return 0, 0, false
	}
}
