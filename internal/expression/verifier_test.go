package expression

import (
	"encoding/json"
	"testing"

	"github.com/rpattn/studyclips/internal/clip"
)

func TestCheckConditions(t *testing.T) {
	rec := clip.RecordOf("age", 20, "name", "alice", "deleted", nil)

	cases := []struct {
		name     string
		verifier Verifier
		want     bool
	}{
		{"not less than", Verifier{Formula: Var("age"), Condition: ConditionNumericalNotLessThan, Value: "18"}, true},
		{"less than", Verifier{Formula: Var("age"), Condition: ConditionNumericalLessThan, Value: 18}, false},
		{"greater than float", Verifier{Formula: Var("age"), Condition: ConditionNumericalGreaterThan, Value: "19.5"}, true},
		{"equal", Verifier{Formula: Var("age"), Condition: ConditionNumericalEqual, Value: 20}, true},
		{"not equal", Verifier{Formula: Var("age"), Condition: ConditionNumericalNotEqual, Value: 20}, false},
		{"not greater than", Verifier{Formula: Var("age"), Condition: ConditionNumericalNotGreaterThan, Value: 20}, true},
		{"numeric on missing key", Verifier{Formula: Var("height"), Condition: ConditionNumericalLessThan, Value: 200}, false},
		{"regex", Verifier{Formula: Var("name"), Condition: ConditionStringRegexMatch, Value: "^ali"}, true},
		{"invalid regex", Verifier{Formula: Var("name"), Condition: ConditionStringRegexMatch, Value: "("}, false},
		{"string equal", Verifier{Formula: Var("name"), Condition: ConditionStringEqual, Value: "alice"}, true},
		{"is null", Verifier{Formula: Var("deleted"), Condition: ConditionGeneralIsNull}, true},
		{"absent is not null", Verifier{Formula: Var("missing"), Condition: ConditionGeneralIsNotNull}, true},
		{"absent is not null check", Verifier{Formula: Var("missing"), Condition: ConditionGeneralIsNull}, false},
		{"unknown condition", Verifier{Formula: Self(), Condition: "NUMERICALBETWEEN"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Check(rec, tc.verifier)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCheckAllIsDisjunctionOfConjunctions(t *testing.T) {
	adult := Verifier{Formula: Self(), Condition: ConditionNumericalNotLessThan, Value: 18}
	senior := Verifier{Formula: Self(), Condition: ConditionNumericalNotLessThan, Value: 65}
	under100 := Verifier{Formula: Self(), Condition: ConditionNumericalLessThan, Value: 100}

	groups := [][]Verifier{{senior, under100}, {adult}}

	ok, err := CheckAll("30", groups)
	if err != nil || !ok {
		t.Fatalf("expected 30 to pass the adult group, got %v (%v)", ok, err)
	}
	ok, err = CheckAll("12", groups)
	if err != nil || ok {
		t.Fatalf("expected 12 to fail every group, got %v (%v)", ok, err)
	}
	ok, err = CheckAll("12", [][]Verifier{{}})
	if err != nil || !ok {
		t.Fatalf("expected an empty group to pass, got %v (%v)", ok, err)
	}
}

func TestVerifierGroupAcceptsSingleObject(t *testing.T) {
	var groups map[string]VerifierGroup
	raw := `{"single":{"formula":{"type":"SELF"},"condition":"GENERALISNULL","value":""},"many":[{"formula":{"type":"SELF"},"condition":"GENERALISNOTNULL","value":""}]}`
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(groups["single"]) != 1 || groups["single"][0].Condition != ConditionGeneralIsNull {
		t.Fatalf("unexpected single group %+v", groups["single"])
	}
	if len(groups["many"]) != 1 || groups["many"][0].Condition != ConditionGeneralIsNotNull {
		t.Fatalf("unexpected list group %+v", groups["many"])
	}
}
