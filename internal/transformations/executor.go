// Package transformations implements the record pipeline: a closed set of
// operators over flat or grouped records, composed into named pipelines.
package transformations

import (
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/studyclips/internal/clip"
)

// RawResultKey names the single result returned when no pipelines are
// requested.
const RawResultKey = "raw"

// Compose applies steps left to right. Any step error aborts the pipeline.
func Compose(steps []Step, data Data) (Data, error) {
	current := data
	for i, step := range steps {
		next, err := executeStep(step, current)
		if err != nil {
			return Data{}, fmt.Errorf("step %d (%s): %w", i, step.Operation, err)
		}
		current = next
	}
	return current, nil
}

// Aggregate runs every named pipeline over the same records. With no
// pipelines the input is returned unchanged under RawResultKey.
func Aggregate(records []*clip.Record, pipelines map[string][]Step) (map[string]Data, error) {
	if len(pipelines) == 0 {
		return map[string]Data{RawResultKey: Flat(records)}, nil
	}

	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]Data, len(names))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		g.Go(func() error {
			out, err := Compose(pipelines[name], Flat(records))
			if err != nil {
				return fmt.Errorf("aggregation %q: %w", name, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Data, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

func executeStep(step Step, data Data) (Data, error) {
	op, err := ParseOperation(string(step.Operation))
	if err != nil {
		return Data{}, err
	}
	step.Operation = op

	switch op {
	case OperationGroup:
		params, err := paramsAs[GroupParams](step)
		if err != nil {
			return Data{}, err
		}
		return group(data, params)
	case OperationAffine:
		params, err := paramsAs[AffineParams](step)
		if err != nil {
			return Data{}, err
		}
		return affine(data, params)
	case OperationLeaveOne:
		params, err := paramsAs[LeaveOneParams](step)
		if err != nil {
			return Data{}, err
		}
		return leaveOne(data, params)
	case OperationJoin:
		params, err := paramsAs[JoinParams](step)
		if err != nil {
			return Data{}, err
		}
		return join(data, params)
	case OperationConcat:
		params, err := paramsAs[ConcatParams](step)
		if err != nil {
			return Data{}, err
		}
		return concat(data, params)
	case OperationDeconcat:
		params, err := paramsAs[DeconcatParams](step)
		if err != nil {
			return Data{}, err
		}
		return deconcat(data, params)
	case OperationFilter:
		params, err := paramsAs[FilterParams](step)
		if err != nil {
			return Data{}, err
		}
		return filter(data, params)
	case OperationCount:
		params, err := paramsAs[CountParams](step)
		if err != nil {
			return Data{}, err
		}
		return count(data, params)
	case OperationDegroup:
		params, err := paramsAs[DegroupParams](step)
		if err != nil {
			return Data{}, err
		}
		return degroup(data, params)
	case OperationFlatten:
		params, err := paramsAs[FlattenParams](step)
		if err != nil {
			return Data{}, err
		}
		return flatten(data, params)
	default:
		return Data{}, fmt.Errorf("unsupported operation %s", op)
	}
}
