package transformations

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/rpattn/studyclips/internal/clip"
	"github.com/rpattn/studyclips/internal/expression"
)

const groupKeySeparator = "|"

func group(data Data, params GroupParams) (Data, error) {
	records, err := data.flatRecords(OperationGroup)
	if err != nil {
		return Data{}, err
	}

	index := make(map[string]int)
	groups := make([][]*clip.Record, 0)
	var unmatched [][]*clip.Record
	for _, record := range records {
		parts := make([]string, 0, len(params.Keys))
		matched := true
		for _, key := range params.Keys {
			value := record.Lookup(key)
			if clip.IsUndefined(value) {
				matched = false
				break
			}
			parts = append(parts, clip.String(value))
		}
		if !matched {
			if !params.SkipUnmatch {
				unmatched = append(unmatched, []*clip.Record{record})
			}
			continue
		}
		groupKey := strings.Join(parts, groupKeySeparator)
		if idx, ok := index[groupKey]; ok {
			groups[idx] = append(groups[idx], record)
			continue
		}
		index[groupKey] = len(groups)
		groups = append(groups, []*clip.Record{record})
	}
	return Grouped(append(groups, unmatched...)), nil
}

func affine(data Data, params AffineParams) (Data, error) {
	records, err := data.flatRecords(OperationAffine)
	if err != nil {
		return Data{}, err
	}

	out := make([]*clip.Record, 0, len(records))
	for _, record := range records {
		next := record.Clone()
		for _, rule := range params.AddedKeyRules {
			key, err := expression.Evaluate(rule.Key, next)
			if err != nil {
				return Data{}, fmt.Errorf("affine added key: %w", err)
			}
			value, err := expression.Evaluate(rule.Value, next)
			if err != nil {
				return Data{}, fmt.Errorf("affine added key %q: %w", clip.String(key), err)
			}
			next.Set(clip.String(key), value)
		}
		if len(params.Rules) > 0 {
			for _, key := range next.Keys() {
				rule, ok := params.Rules[key]
				if !ok {
					continue
				}
				value, err := expression.Evaluate(rule, next.Value(key))
				if err != nil {
					return Data{}, fmt.Errorf("affine rule for key %q: %w", key, err)
				}
				next.Set(key, value)
			}
		}
		for _, key := range params.RemovedKeys {
			next.Delete(key)
		}
		if next.Len() == 0 {
			continue
		}
		out = append(out, next)
	}
	return Flat(out), nil
}

func leaveOne(data Data, params LeaveOneParams) (Data, error) {
	groups, err := data.groupedRecords(OperationLeaveOne)
	if err != nil {
		return Data{}, err
	}

	out := make([]*clip.Record, 0, len(groups))
	for _, members := range groups {
		if len(members) == 0 {
			continue
		}
		best := -1
		var bestScore float64
		for i, member := range members {
			raw, err := expression.Evaluate(params.ScoreFormula, member)
			if err != nil {
				return Data{}, fmt.Errorf("leave one score: %w", err)
			}
			score, ok := clip.ToFloat(raw)
			if !ok || math.IsNaN(score) {
				continue
			}
			if best < 0 || (params.IsDescend && score > bestScore) || (!params.IsDescend && score < bestScore) {
				best = i
				bestScore = score
			}
		}
		if best < 0 {
			best = 0
		}
		out = append(out, members[best])
	}
	return Flat(out), nil
}

func join(data Data, _ JoinParams) (Data, error) {
	groups, err := data.groupedRecords(OperationJoin)
	if err != nil {
		return Data{}, err
	}

	out := make([]*clip.Record, 0, len(groups))
	for _, members := range groups {
		merged := clip.NewRecord(0)
		for _, member := range members {
			member.Range(func(key string, value any) bool {
				merged.Set(key, value)
				return true
			})
		}
		out = append(out, merged)
	}
	return Flat(out), nil
}

func concat(data Data, params ConcatParams) (Data, error) {
	groups, err := data.groupedRecords(OperationConcat)
	if err != nil {
		return Data{}, err
	}

	out := make([]*clip.Record, 0, len(groups))
	for _, members := range groups {
		merged := clip.NewRecord(0)
		collected := make(map[string][]any, len(params.ConcatKeys))
		for _, member := range members {
			member.Range(func(key string, value any) bool {
				if slices.Contains(params.ConcatKeys, key) {
					if !merged.Has(key) {
						merged.Set(key, nil)
					}
					collected[key] = append(collected[key], value)
					return true
				}
				if !merged.Has(key) {
					merged.Set(key, value)
				}
				return true
			})
		}
		for key, values := range collected {
			merged.Set(key, values)
		}
		out = append(out, merged)
	}
	return Flat(out), nil
}

func deconcat(data Data, params DeconcatParams) (Data, error) {
	records, err := data.flatRecords(OperationDeconcat)
	if err != nil {
		return Data{}, err
	}

	out := make([][]*clip.Record, 0, len(records))
	for _, record := range records {
		arrays := make([][]any, len(params.DeconcatKeys))
		for i, key := range params.DeconcatKeys {
			arrays[i] = asArray(record.Value(key))
		}

		var rows [][]any
		switch params.MatchMode {
		case "", MatchModeCombinations:
			rows = combinations(arrays)
		case MatchModeSequential:
			rows = sequential(arrays)
		default:
			return Data{}, fmt.Errorf("deconcat: unsupported match mode %q", params.MatchMode)
		}

		members := make([]*clip.Record, 0, len(rows))
		for _, row := range rows {
			next := clip.NewRecord(record.Len())
			for i, key := range params.DeconcatKeys {
				next.Set(key, row[i])
			}
			record.Range(func(key string, value any) bool {
				if !slices.Contains(params.DeconcatKeys, key) {
					next.Set(key, value)
				}
				return true
			})
			members = append(members, next)
		}
		out = append(out, members)
	}
	return Grouped(out), nil
}

func asArray(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		if clip.IsUndefined(t) {
			return nil
		}
		return []any{t}
	}
}

// combinations returns the cartesian product of arrays, varying the last
// array fastest.
func combinations(arrays [][]any) [][]any {
	rows := [][]any{{}}
	for _, values := range arrays {
		next := make([][]any, 0, len(rows)*len(values))
		for _, row := range rows {
			for _, v := range values {
				combined := make([]any, len(row), len(row)+1)
				copy(combined, row)
				next = append(next, append(combined, v))
			}
		}
		rows = next
	}
	return rows
}

// sequential zips arrays by index, padding shorter arrays with Undefined.
func sequential(arrays [][]any) [][]any {
	longest := 0
	for _, values := range arrays {
		longest = max(longest, len(values))
	}
	rows := make([][]any, longest)
	for i := range rows {
		row := make([]any, len(arrays))
		for j, values := range arrays {
			if i < len(values) {
				row[j] = values[i]
			} else {
				row[j] = clip.Undefined
			}
		}
		rows[i] = row
	}
	return rows
}

func filter(data Data, params FilterParams) (Data, error) {
	names := make([]string, 0, len(params.Filters))
	for name := range params.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	groups := make([][]expression.Verifier, len(names))
	for i, name := range names {
		groups[i] = params.Filters[name]
	}

	keep := func(records []*clip.Record) ([]*clip.Record, error) {
		out := make([]*clip.Record, 0, len(records))
		for _, record := range records {
			ok, err := expression.CheckAll(record, groups)
			if err != nil {
				return nil, fmt.Errorf("filter: %w", err)
			}
			if ok {
				out = append(out, record)
			}
		}
		return out, nil
	}

	if !data.IsGrouped() {
		out, err := keep(data.Records())
		if err != nil {
			return Data{}, err
		}
		return Flat(out), nil
	}
	out := make([][]*clip.Record, 0, data.Len())
	for _, members := range data.Groups() {
		kept, err := keep(members)
		if err != nil {
			return Data{}, err
		}
		out = append(out, kept)
	}
	return Grouped(out), nil
}

func count(data Data, params CountParams) (Data, error) {
	groups, err := data.groupedRecords(OperationCount)
	if err != nil {
		return Data{}, err
	}

	out := make([]*clip.Record, 0, len(groups))
	for _, members := range groups {
		summary := clip.NewRecord(1 + len(params.AddedKeyRules))
		summary.Set("count", int64(len(members)))
		var first any = clip.Undefined
		if len(members) > 0 {
			first = members[0]
		}
		for _, rule := range params.AddedKeyRules {
			key, err := expression.Evaluate(rule.Key, first)
			if err != nil {
				return Data{}, fmt.Errorf("count added key: %w", err)
			}
			value, err := expression.Evaluate(rule.Value, first)
			if err != nil {
				return Data{}, fmt.Errorf("count added key %q: %w", clip.String(key), err)
			}
			summary.Set(clip.String(key), value)
		}
		out = append(out, summary)
	}
	return Flat(out), nil
}

func degroup(data Data, params DegroupParams) (Data, error) {
	records, err := data.flatRecords(OperationDegroup)
	if err != nil {
		return Data{}, err
	}

	out := make([][]*clip.Record, 0, len(records))
	for _, record := range records {
		members := make([]*clip.Record, 0, len(params.TargetKeyGroups))
		for _, keys := range params.TargetKeyGroups {
			next := clip.NewRecord(len(params.SharedKeys) + len(keys))
			for _, key := range params.SharedKeys {
				next.Set(key, record.Value(key))
			}
			for _, key := range keys {
				next.Set(key, record.Value(key))
			}
			members = append(members, next)
		}
		out = append(out, members)
	}
	return Grouped(out), nil
}

func flatten(data Data, params FlattenParams) (Data, error) {
	if params.FlattenedKey == "" {
		return Data{}, fmt.Errorf("flatten requires a flattenedKey")
	}
	flattenOne := func(record *clip.Record) *clip.Record {
		nested, ok := record.Value(params.FlattenedKey).(*clip.Record)
		if !ok {
			return record
		}
		next := record.Clone()
		nested.Range(func(key string, value any) bool {
			if !params.KeepFlattened || !record.Has(key) {
				next.Set(key, value)
			}
			return true
		})
		if !params.KeepFlattenedKey {
			next.Delete(params.FlattenedKey)
		}
		return next
	}

	if !data.IsGrouped() {
		out := make([]*clip.Record, 0, data.Len())
		for _, record := range data.Records() {
			out = append(out, flattenOne(record))
		}
		return Flat(out), nil
	}
	out := make([][]*clip.Record, 0, data.Len())
	for _, members := range data.Groups() {
		flattened := make([]*clip.Record, 0, len(members))
		for _, record := range members {
			flattened = append(flattened, flattenOne(record))
		}
		out = append(out, flattened)
	}
	return Grouped(out), nil
}
