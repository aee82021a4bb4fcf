package core

import (
	"strings"
	"testing"
)

func readSpec(id StepID, group string) StepSpec {
	return StepSpec{
		ID:      id,
		Kind:    StepKindRead,
		GroupID: group,
		Inputs:  StepInputs{Read: &ReadInputs{Collection: "notes"}},
	}
}

func TestStep_Lifecycle(t *testing.T) {
	s := NewStep(readSpec("s1", "g1"))
	if s.Status != StepStatusPending {
		t.Fatalf("new step should be pending, got %s", s.Status)
	}
	if s.IsTerminal() {
		t.Fatalf("pending step should not be terminal")
	}

	if err := s.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if s.StartedAt == nil {
		t.Fatalf("expected StartedAt to be set")
	}

	if err := s.MarkSucceeded(&StepOutput{Text: "ok"}); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if !s.IsSuccess() || !s.IsTerminal() {
		t.Fatalf("expected terminal success, got %s", s.Status)
	}
	if s.Output == nil || s.Output.Text != "ok" {
		t.Fatalf("expected output to be retained")
	}
}

func TestStep_InvalidTransitions(t *testing.T) {
	s := NewStep(readSpec("s1", "g1"))
	if err := s.MarkSucceeded(nil); err == nil {
		t.Fatalf("expected error succeeding a pending step")
	}
	if err := s.MarkFailed(ErrTimeout("late")); err == nil {
		t.Fatalf("expected error failing a pending step")
	}

	if err := s.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := s.MarkSkipped("nope"); err == nil {
		t.Fatalf("expected error skipping a running step")
	}
	if err := s.MarkRunning(); err == nil {
		t.Fatalf("expected error starting a running step")
	}

	if err := s.MarkFailed(ErrRateLimit("429")); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := s.MarkRunning(); err == nil {
		t.Fatalf("terminal states are final")
	}
}

func TestStep_FailureRecordsCategory(t *testing.T) {
	s := NewStep(readSpec("s1", "g1"))
	if err := s.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := s.MarkFailed(ErrRateLimit("too many requests")); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if s.ErrCategory != ErrCatRateLimit {
		t.Fatalf("expected rate_limit category, got %s", s.ErrCategory)
	}
	if !strings.Contains(s.Error, "too many requests") {
		t.Fatalf("expected error detail, got %q", s.Error)
	}
}

func TestStep_Skip(t *testing.T) {
	s := NewStep(readSpec("s1", "g2"))
	if err := s.MarkSkipped("dependency s0 failed"); err != nil {
		t.Fatalf("MarkSkipped failed: %v", err)
	}
	if s.Status != StepStatusSkipped || !s.IsTerminal() {
		t.Fatalf("expected terminal skipped, got %s", s.Status)
	}
}

func TestStep_BlockedBy(t *testing.T) {
	spec := readSpec("s2", "g2")
	spec.DependsOn = []StepID{"a", "b"}
	s := NewStep(spec)

	statuses := map[StepID]StepStatus{"a": StepStatusSucceeded, "b": StepStatusSucceeded}
	if dep, blocked := s.BlockedBy(statuses); blocked {
		t.Fatalf("expected no blocker, got %s", dep)
	}

	statuses["b"] = StepStatusFailed
	dep, blocked := s.BlockedBy(statuses)
	if !blocked || dep != "b" {
		t.Fatalf("expected blocker b, got %s blocked=%v", dep, blocked)
	}

	// Skipped dependencies block too: skip propagates transitively.
	statuses["b"] = StepStatusSkipped
	if _, blocked := s.BlockedBy(statuses); !blocked {
		t.Fatalf("expected skipped dependency to block")
	}
}

func TestStep_RetryableByKind(t *testing.T) {
	kinds := map[StepKind]bool{
		StepKindRead:     true,
		StepKindAnalyze:  true,
		StepKindGenerate: true,
		StepKindWrite:    false,
	}
	for kind, want := range kinds {
		s := &Step{ID: "s", Kind: kind}
		if got := s.Retryable(); got != want {
			t.Errorf("kind %s: Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestStep_Summary(t *testing.T) {
	spec := StepSpec{
		ID:      "gen1",
		Kind:    StepKindGenerate,
		GroupID: "g2",
		Inputs: StepInputs{Generate: &GenerateInputs{
			Prompt: "summarize",
			Refs:   []string{"tok-1", "tok-2"},
		}},
	}
	s := NewStep(spec)
	if err := s.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	s.Attempts = 2
	if err := s.MarkSucceeded(&StepOutput{Text: "done"}); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	sum := s.Summary()
	if sum.StepID != "gen1" || sum.Kind != StepKindGenerate || sum.GroupID != "g2" {
		t.Fatalf("summary identity mismatch: %+v", sum)
	}
	if sum.Status != StepStatusSucceeded || sum.Attempts != 2 {
		t.Fatalf("summary state mismatch: %+v", sum)
	}
	if len(sum.Refs) != 2 || sum.Refs[0] != "tok-1" {
		t.Fatalf("summary refs mismatch: %v", sum.Refs)
	}
	if sum.Output == nil || sum.Output.Text != "done" {
		t.Fatalf("summary output mismatch")
	}

	// Summary holds a copy, not the live output.
	sum.Output.Text = "mutated"
	if s.Output.Text != "done" {
		t.Fatalf("summary mutation leaked into step output")
	}
}

func TestValidStepKind(t *testing.T) {
	for _, k := range []StepKind{StepKindRead, StepKindAnalyze, StepKindGenerate, StepKindWrite} {
		if !ValidStepKind(k) {
			t.Errorf("expected %s to be valid", k)
		}
	}
	if ValidStepKind("delete") {
		t.Fatalf("expected unknown kind to be invalid")
	}
}
