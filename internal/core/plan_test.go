package core

import (
	"strings"
	"testing"
)

func twoGroupPlan() TurnPlan {
	return TurnPlan{Groups: []StepGroup{
		{ID: "g1", Steps: []StepSpec{
			{ID: "a", Kind: StepKindRead, Inputs: StepInputs{Read: &ReadInputs{Collection: "notes"}}},
			{ID: "b", Kind: StepKindAnalyze, Inputs: StepInputs{Analyze: &AnalyzeInputs{}}},
		}},
		{ID: "g2", Steps: []StepSpec{
			{ID: "c", Kind: StepKindGenerate, DependsOn: []StepID{"a"},
				Inputs: StepInputs{Generate: &GenerateInputs{Prompt: "go"}}},
		}},
	}}
}

func TestTurnPlan_ValidateOK(t *testing.T) {
	if err := twoGroupPlan().Validate(); err != nil {
		t.Fatalf("expected valid plan, got %v", err)
	}
}

func TestTurnPlan_ValidateStructure(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TurnPlan)
		wantsub string
	}{
		{"empty plan", func(p *TurnPlan) { p.Groups = nil }, "no groups"},
		{"empty group", func(p *TurnPlan) { p.Groups[0].Steps = nil }, "no steps"},
		{"missing group id", func(p *TurnPlan) { p.Groups[0].ID = "" }, "no id"},
		{"duplicate group id", func(p *TurnPlan) { p.Groups[1].ID = "g1" }, "duplicate group"},
		{"duplicate step id", func(p *TurnPlan) { p.Groups[1].Steps[0].ID = "a" }, "duplicate step"},
		{"unknown dependency", func(p *TurnPlan) { p.Groups[1].Steps[0].DependsOn = []StepID{"zz"} }, "unknown step"},
		{"same group dependency", func(p *TurnPlan) { p.Groups[0].Steps[1].DependsOn = []StepID{"a"} }, "same-group"},
		{"forward dependency", func(p *TurnPlan) { p.Groups[0].Steps[0].DependsOn = []StepID{"c"} }, "later-group"},
		{"group id mismatch", func(p *TurnPlan) { p.Groups[0].Steps[0].GroupID = "g9" }, "sits in group"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := twoGroupPlan()
			tt.mutate(&plan)
			err := plan.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantsub) {
				t.Fatalf("expected error containing %q, got %v", tt.wantsub, err)
			}
		})
	}
}

func TestStepInputs_ExactlyOneArm(t *testing.T) {
	none := StepInputs{}
	if err := none.Validate(StepKindRead); err == nil {
		t.Fatalf("expected error for empty inputs")
	}

	both := StepInputs{
		Read:    &ReadInputs{Collection: "x"},
		Analyze: &AnalyzeInputs{},
	}
	if err := both.Validate(StepKindRead); err == nil {
		t.Fatalf("expected error for two arms")
	}

	mismatched := StepInputs{Analyze: &AnalyzeInputs{}}
	if err := mismatched.Validate(StepKindRead); err == nil {
		t.Fatalf("expected error for arm not matching kind")
	}
}

func TestStepInputs_ArmRequirements(t *testing.T) {
	if err := (StepInputs{Read: &ReadInputs{}}).Validate(StepKindRead); err == nil {
		t.Fatalf("read without collection should fail")
	}
	if err := (StepInputs{Generate: &GenerateInputs{}}).Validate(StepKindGenerate); err == nil {
		t.Fatalf("generate without prompt should fail")
	}

	w := StepInputs{Write: &WriteInputs{Collection: "notes"}}
	if err := w.Validate(StepKindWrite); err == nil {
		t.Fatalf("write without rows or delete should fail")
	}
	w.Write.Rows = []Row{{"id": "1"}}
	w.Write.Delete = Filter{"id": "1"}
	if err := w.Validate(StepKindWrite); err == nil {
		t.Fatalf("write with both rows and delete should fail")
	}
	w.Write.Delete = nil
	if err := w.Validate(StepKindWrite); err != nil {
		t.Fatalf("write with rows only should pass, got %v", err)
	}
}

func TestNewStepSpec_Validates(t *testing.T) {
	_, err := NewStepSpec("", StepKindRead, "g1", StepInputs{Read: &ReadInputs{Collection: "x"}})
	if err == nil {
		t.Fatalf("expected error for empty id")
	}
	_, err = NewStepSpec("s1", "explode", "g1", StepInputs{Read: &ReadInputs{Collection: "x"}})
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	spec, err := NewStepSpec("s1", StepKindRead, "g1", StepInputs{Read: &ReadInputs{Collection: "x"}}, "dep1")
	if err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}
	if len(spec.DependsOn) != 1 || spec.DependsOn[0] != "dep1" {
		t.Fatalf("expected dependency to be carried, got %v", spec.DependsOn)
	}
}

func TestTurnPlan_SpecsOrder(t *testing.T) {
	plan := twoGroupPlan()
	specs := plan.Specs()
	if plan.TotalSteps() != 3 || len(specs) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(specs))
	}
	want := []StepID{"a", "b", "c"}
	for i, id := range want {
		if specs[i].ID != id {
			t.Fatalf("declaration order broken at %d: got %s want %s", i, specs[i].ID, id)
		}
	}
}

func TestStepInputs_Refs(t *testing.T) {
	gen := StepInputs{Generate: &GenerateInputs{Prompt: "p", Refs: []string{"t1"}}}
	refs := gen.Refs()
	if len(refs) != 1 || refs[0] != "t1" {
		t.Fatalf("expected generate refs, got %v", refs)
	}
	refs[0] = "mutated"
	if gen.Generate.Refs[0] != "t1" {
		t.Fatalf("Refs should return a copy")
	}

	read := StepInputs{Read: &ReadInputs{Collection: "x"}}
	if read.Refs() != nil {
		t.Fatalf("read steps consume no refs")
	}
}
