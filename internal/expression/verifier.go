package expression

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rpattn/studyclips/internal/clip"
)

// Condition enumerates verifier comparisons.
type Condition string

const (
	ConditionNumericalEqual          Condition = "NUMERICALEQUAL"
	ConditionNumericalNotEqual       Condition = "NUMERICALNOTEQUAL"
	ConditionNumericalLessThan       Condition = "NUMERICALLESSTHAN"
	ConditionNumericalGreaterThan    Condition = "NUMERICALGREATERTHAN"
	ConditionNumericalNotLessThan    Condition = "NUMERICALNOTLESSTHAN"
	ConditionNumericalNotGreaterThan Condition = "NUMERICALNOTGREATERTHAN"
	ConditionStringRegexMatch        Condition = "STRINGREGEXMATCH"
	ConditionStringEqual             Condition = "STRINGEQUAL"
	ConditionGeneralIsNull           Condition = "GENERALISNULL"
	ConditionGeneralIsNotNull        Condition = "GENERALISNOTNULL"
)

// Verifier pairs an expression with a condition the expression's result
// must satisfy.
type Verifier struct {
	Formula    Node           `json:"formula"`
	Condition  Condition      `json:"condition"`
	Value      any            `json:"value"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Check evaluates the verifier formula against candidate and tests the
// result. Unknown conditions are false rather than errors; evaluation
// failures are returned.
func Check(candidate any, v Verifier) (bool, error) {
	calculated, err := Evaluate(v.Formula, candidate)
	if err != nil {
		return false, err
	}
	expected := clip.Normalize(v.Value)

	switch v.Condition {
	case ConditionNumericalEqual:
		cmp, ok := compareNumbers(calculated, expected)
		return ok && cmp == 0, nil
	case ConditionNumericalNotEqual:
		cmp, ok := compareNumbers(calculated, expected)
		return !ok || cmp != 0, nil
	case ConditionNumericalLessThan:
		cmp, ok := compareNumbers(calculated, expected)
		return ok && cmp < 0, nil
	case ConditionNumericalGreaterThan:
		cmp, ok := compareNumbers(calculated, expected)
		return ok && cmp > 0, nil
	case ConditionNumericalNotLessThan:
		cmp, ok := compareNumbers(calculated, expected)
		return ok && cmp >= 0, nil
	case ConditionNumericalNotGreaterThan:
		cmp, ok := compareNumbers(calculated, expected)
		return ok && cmp <= 0, nil
	case ConditionStringRegexMatch:
		re, err := regexp.Compile(clip.String(expected))
		if err != nil {
			return false, nil
		}
		return re.MatchString(clip.String(calculated)), nil
	case ConditionStringEqual:
		return clip.ValuesEqual(calculated, expected), nil
	case ConditionGeneralIsNull:
		return calculated == nil, nil
	case ConditionGeneralIsNotNull:
		return calculated != nil, nil
	default:
		return false, nil
	}
}

// compareNumbers returns -1, 0 or 1. The expected side goes through
// ParseNumber; the calculated side must already be numeric or a numeric
// string.
func compareNumbers(calculated, expected any) (int, bool) {
	want, err := ParseNumber(expected)
	if err != nil {
		return 0, false
	}
	got, ok := numericOperand(calculated)
	if !ok {
		return 0, false
	}
	gf, _ := clip.ToFloat(got)
	wf, _ := clip.ToFloat(want)
	switch {
	case gf < wf:
		return -1, true
	case gf > wf:
		return 1, true
	case gf == wf:
		return 0, true
	default:
		return 0, false
	}
}

// CheckAll reports whether candidate satisfies at least one group, where a
// group is satisfied when every verifier in it passes. An empty group is
// always satisfied.
func CheckAll(candidate any, groups [][]Verifier) (bool, error) {
	for _, group := range groups {
		passed := true
		for _, v := range group {
			ok, err := Check(candidate, v)
			if err != nil {
				return false, err
			}
			if !ok {
				passed = false
				break
			}
		}
		if passed {
			return true, nil
		}
	}
	return false, nil
}

// VerifierGroup is a conjunction of verifiers. On the wire it is either a
// JSON array or a single verifier object.
type VerifierGroup []Verifier

// UnmarshalJSON accepts an array of verifiers or a single verifier.
func (g *VerifierGroup) UnmarshalJSON(data []byte) error {
	var list []Verifier
	if err := json.Unmarshal(data, &list); err == nil {
		*g = list
		return nil
	}
	var single Verifier
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("failed to decode verifier group: %w", err)
	}
	*g = VerifierGroup{single}
	return nil
}
