package transformations

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/studyclips/internal/expression"
)

// ErrUnknownOperation is returned for operation names outside the closed set.
var ErrUnknownOperation = errors.New("unknown transformation operation")

// Operation enumerates the transformation operators.
type Operation string

const (
	OperationGroup    Operation = "GROUP"
	OperationAffine   Operation = "AFFINE"
	OperationLeaveOne Operation = "LEAVEONE"
	OperationJoin     Operation = "JOIN"
	OperationConcat   Operation = "CONCAT"
	OperationDeconcat Operation = "DECONCAT"
	OperationFilter   Operation = "FILTER"
	OperationCount    Operation = "COUNT"
	OperationDegroup  Operation = "DEGROUP"
	OperationFlatten  Operation = "FLATTEN"
)

// ParseOperation resolves an operation name case-insensitively.
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(name)))
	switch op {
	case OperationGroup, OperationAffine, OperationLeaveOne, OperationJoin, OperationConcat,
		OperationDeconcat, OperationFilter, OperationCount, OperationDegroup, OperationFlatten:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
}

// GroupParams configures GROUP.
type GroupParams struct {
	Keys        []string `json:"keys"`
	SkipUnmatch bool     `json:"skipUnmatch"`
}

// KeyRule adds a key whose name and value are both computed.
type KeyRule struct {
	Key   expression.Node `json:"key"`
	Value expression.Node `json:"value"`
}

// AffineParams configures AFFINE.
type AffineParams struct {
	RemovedKeys   []string                   `json:"removedKeys,omitempty"`
	AddedKeyRules []KeyRule                  `json:"addedKeyRules,omitempty"`
	Rules         map[string]expression.Node `json:"rules,omitempty"`
}

// LeaveOneParams configures LEAVEONE.
type LeaveOneParams struct {
	ScoreFormula expression.Node `json:"scoreFormula"`
	IsDescend    bool            `json:"isDescend"`
}

// JoinParams configures JOIN.
type JoinParams struct{}

// ConcatParams configures CONCAT.
type ConcatParams struct {
	ConcatKeys []string `json:"concatKeys"`
}

// DeconcatParams configures DECONCAT. An empty MatchMode means
// combinations.
type DeconcatParams struct {
	DeconcatKeys []string `json:"deconcatKeys"`
	MatchMode    string   `json:"matchMode"`
}

// Deconcat match modes.
const (
	MatchModeCombinations = "combinations"
	MatchModeSequential   = "sequential"
)

// FilterParams configures FILTER. A record passes when it satisfies every
// verifier of at least one named group.
type FilterParams struct {
	Filters map[string]expression.VerifierGroup `json:"filters"`
}

// CountParams configures COUNT.
type CountParams struct {
	AddedKeyRules []KeyRule `json:"addedKeyRules,omitempty"`
}

// DegroupParams configures DEGROUP.
type DegroupParams struct {
	SharedKeys      []string   `json:"sharedKeys"`
	TargetKeyGroups [][]string `json:"targetKeyGroups"`
}

// FlattenParams configures FLATTEN.
type FlattenParams struct {
	KeepFlattened    bool   `json:"keepFlattened"`
	FlattenedKey     string `json:"flattenedKey"`
	KeepFlattenedKey bool   `json:"keepFlattenedKey"`
}

// Step is one pipeline stage. Params holds the params struct matching
// Operation, either by value or by pointer.
type Step struct {
	Operation Operation
	Params    any
}

type stepJSON struct {
	OperationName string          `json:"operationName"`
	Params        json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON writes the step as {"operationName", "params"}.
func (s Step) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", s.Operation, err)
	}
	return json.Marshal(stepJSON{OperationName: string(s.Operation), Params: params})
}

// UnmarshalJSON decodes the params into the struct matching the operation.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode step: %w", err)
	}
	op, err := ParseOperation(raw.OperationName)
	if err != nil {
		return err
	}
	params, err := decodeParams(op, raw.Params)
	if err != nil {
		return err
	}
	s.Operation = op
	s.Params = params
	return nil
}

func decodeParams(op Operation, raw json.RawMessage) (any, error) {
	switch op {
	case OperationGroup:
		return decodeInto[GroupParams](op, raw)
	case OperationAffine:
		return decodeInto[AffineParams](op, raw)
	case OperationLeaveOne:
		return decodeInto[LeaveOneParams](op, raw)
	case OperationJoin:
		return decodeInto[JoinParams](op, raw)
	case OperationConcat:
		return decodeInto[ConcatParams](op, raw)
	case OperationDeconcat:
		return decodeInto[DeconcatParams](op, raw)
	case OperationFilter:
		return decodeInto[FilterParams](op, raw)
	case OperationCount:
		return decodeInto[CountParams](op, raw)
	case OperationDegroup:
		return decodeInto[DegroupParams](op, raw)
	case OperationFlatten:
		return decodeInto[FlattenParams](op, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func decodeInto[T any](op Operation, raw json.RawMessage) (any, error) {
	var params T
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid %s params: %w", op, err)
	}
	return params, nil
}

// paramsAs extracts typed params from a step built in code or decoded from
// JSON.
func paramsAs[T any](s Step) (T, error) {
	var zero T
	switch p := s.Params.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return zero, fmt.Errorf("%s step has nil params", s.Operation)
		}
		return *p, nil
	case nil:
		return zero, nil
	default:
		return zero, fmt.Errorf("%s step has params of type %T", s.Operation, s.Params)
	}
}

// StepsFromJSON decodes a pipeline.
func StepsFromJSON(data []byte) ([]Step, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}
