package expression

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rpattn/studyclips/internal/clip"
)

var (
	leadingInt   = regexp.MustCompile(`^[+-]?\d+`)
	leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// Evaluate computes the value of node for input. Evaluation is pure: input
// is never modified.
func Evaluate(node Node, input any) (any, error) {
	switch node.Type {
	case NodeValue:
		return clip.Normalize(node.Value), nil
	case NodeSelf:
		return input, nil
	case NodeVariable:
		return evaluateVariable(node, input)
	case NodeMap:
		return evaluateMap(node, input)
	case NodeOperation:
		return evaluateOperation(node, input)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidNodeType, node.Type)
	}
}

func evaluateVariable(node Node, input any) (any, error) {
	path, ok := node.Value.(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: variable node requires a non-empty path", ErrMalformedExpression)
	}
	return clip.LookupPath(input, path), nil
}

func evaluateMap(node Node, input any) (any, error) {
	key, ok := input.(string)
	if !ok {
		return nil, fmt.Errorf("%w: map node requires a string input, got %T", ErrMalformedExpression, input)
	}
	mapped, found := node.Parameters[key]
	if !found || mapped == nil {
		return input, nil
	}
	return clip.Normalize(mapped), nil
}

func evaluateOperation(node Node, input any) (any, error) {
	switch input.(type) {
	case int64, float64, string:
	default:
		return nil, fmt.Errorf("%w: operation %s requires a number or string input, got %T", ErrMalformedExpression, node.Operator, input)
	}
	if node.Operator == "" {
		return nil, fmt.Errorf("%w: operation node has no operator", ErrMalformedExpression)
	}
	lo, hi, known := arity(node.Operator)
	if !known {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformedExpression, node.Operator)
	}
	if len(node.Children) < lo || (hi >= 0 && len(node.Children) > hi) {
		return nil, fmt.Errorf("%w: operator %s got %d children", ErrMalformedExpression, node.Operator, len(node.Children))
	}

	switch node.Operator {
	case OpAdd, OpMinus, OpMultiply, OpDivide, OpPow:
		return evaluateArithmetic(node, input)
	case OpConcat:
		var sb strings.Builder
		for _, child := range node.Children {
			v, err := Evaluate(child, input)
			if err != nil {
				return nil, err
			}
			sb.WriteString(clip.String(v))
		}
		return sb.String(), nil
	case OpSubstr:
		values, err := evaluateChildren(node.Children, input)
		if err != nil {
			return nil, err
		}
		return substr(clip.String(values[0]), loosePosition(values[1]), loosePosition(values[2])), nil
	case OpTypeConversion:
		values, err := evaluateChildren(node.Children, input)
		if err != nil {
			return nil, err
		}
		return convert(clip.String(values[0]), values[1])
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformedExpression, node.Operator)
}

func evaluateChildren(children []Node, input any) ([]any, error) {
	values := make([]any, len(children))
	for i, child := range children {
		v, err := Evaluate(child, input)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func evaluateArithmetic(node Node, input any) (any, error) {
	scope := input
	if n, err := ParseNumber(input); err == nil {
		scope = n
	}
	values, err := evaluateChildren(node.Children, scope)
	if err != nil {
		return nil, err
	}

	left, lok := numericOperand(values[0])
	right, rok := numericOperand(values[1])
	if !lok || !rok {
		return nil, fmt.Errorf("%w: operator %s requires numeric operands, got %v and %v", ErrMalformedExpression, node.Operator, clip.String(values[0]), clip.String(values[1]))
	}

	li, lint := left.(int64)
	ri, rint := right.(int64)
	bothInt := lint && rint
	lf, _ := clip.ToFloat(left)
	rf, _ := clip.ToFloat(right)

	switch node.Operator {
	case OpAdd:
		if bothInt {
			return li + ri, nil
		}
		return lf + rf, nil
	case OpMinus:
		if bothInt {
			return li - ri, nil
		}
		return lf - rf, nil
	case OpMultiply:
		if bothInt {
			return li * ri, nil
		}
		return lf * rf, nil
	case OpDivide:
		return lf / rf, nil
	default:
		return math.Pow(lf, rf), nil
	}
}

func numericOperand(v any) (any, bool) {
	switch t := v.(type) {
	case int64, float64:
		return t, true
	case string:
		n, err := ParseNumber(t)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return nil, false
}

func loosePosition(v any) int {
	f, ok := clip.ToFloat(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

// substr takes length characters starting at start. A negative start counts
// back from the end of the string.
func substr(s string, start, length int) string {
	runes := []rune(s)
	if start < 0 {
		start = max(len(runes)+start, 0)
	}
	if start >= len(runes) || length <= 0 {
		return ""
	}
	end := min(start+length, len(runes))
	return string(runes[start:end])
}

func convert(target string, value any) (any, error) {
	switch target {
	case TargetInt:
		f, ok := looseNumber(value)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %q to %s", ErrMalformedExpression, clip.String(value), target)
		}
		return int64(math.Floor(f)), nil
	case TargetFloat:
		f, err := parseLeadingFloat(clip.String(value))
		if err != nil {
			return nil, fmt.Errorf("%w: cannot convert %q to %s", ErrMalformedExpression, clip.String(value), target)
		}
		return f, nil
	case TargetString:
		return clip.String(value), nil
	default:
		return nil, fmt.Errorf("%w: unsupported conversion target %q", ErrMalformedExpression, target)
	}
}

// looseNumber mirrors numeric coercion of scalars: null and the empty
// string are zero, booleans are zero or one.
func looseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, true
		}
	}
	f, ok := clip.ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseNumber reads a number out of v. Strings containing a decimal point
// parse as floats, others as integers; in both cases only the leading
// numeric prefix is considered.
func ParseNumber(v any) (any, error) {
	switch t := v.(type) {
	case int64, float64:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if strings.Contains(s, ".") {
			return parseLeadingFloat(s)
		}
		m := leadingInt.FindString(s)
		if m == "" {
			return nil, fmt.Errorf("not a number: %q", t)
		}
		i, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(m, 64)
			if ferr != nil {
				return nil, fmt.Errorf("not a number: %q", t)
			}
			return f, nil
		}
		return i, nil
	}
	return nil, fmt.Errorf("not a number: %v", clip.String(v))
}

func parseLeadingFloat(s string) (float64, error) {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return strconv.ParseFloat(m, 64)
}
