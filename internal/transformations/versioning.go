package transformations

import "github.com/rpattn/studyclips/internal/expression"

// VersioningPipeline builds the steps that reduce raw data records to the
// latest live record per key combination:
//
//  1. drop unversioned records unless null is among the requested versions
//  2. group by versioningKeys, keeping records missing a key as singletons
//  3. keep the most recently created record of each group
//  4. drop records whose latest state is a deletion
func VersioningPipeline(versioningKeys []string, includeUnversioned bool) []Step {
	steps := make([]Step, 0, 4)
	if !includeUnversioned {
		steps = append(steps, Step{
			Operation: OperationFilter,
			Params: FilterParams{Filters: map[string]expression.VerifierGroup{
				"versioned": {{
					Formula:   expression.Var("dataVersion"),
					Condition: expression.ConditionGeneralIsNotNull,
				}},
			}},
		})
	}
	steps = append(steps,
		Step{
			Operation: OperationGroup,
			Params:    GroupParams{Keys: versioningKeys, SkipUnmatch: false},
		},
		Step{
			Operation: OperationLeaveOne,
			Params: LeaveOneParams{
				ScoreFormula: expression.Var("life.createdTime"),
				IsDescend:    true,
			},
		},
		Step{
			Operation: OperationFilter,
			Params: FilterParams{Filters: map[string]expression.VerifierGroup{
				"live": {{
					Formula:   expression.Var("life.deletedTime"),
					Condition: expression.ConditionGeneralIsNull,
				}},
			}},
		},
	)
	return steps
}
