package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepID uniquely identifies a step within a turn plan.
type StepID string

// StepKind is the type of work a step performs.
type StepKind string

const (
	StepKindRead     StepKind = "read"     // Query the storage collaborator
	StepKindAnalyze  StepKind = "analyze"  // Local computation over refs and earlier outputs
	StepKindGenerate StepKind = "generate" // Call the generation backend
	StepKindWrite    StepKind = "write"    // Mutate the storage collaborator
)

// ValidStepKind reports whether k is one of the four step kinds.
func ValidStepKind(k StepKind) bool {
	switch k {
	case StepKindRead, StepKindAnalyze, StepKindGenerate, StepKindWrite:
		return true
	}
	return false
}

// StepStatus represents the current state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Step is the runtime state of one planned step during turn execution.
// The scheduler owns all transitions; terminal states are final.
type Step struct {
	ID        StepID
	Kind      StepKind
	GroupID   string
	DependsOn []StepID
	Inputs    StepInputs

	Status      StepStatus
	Attempts    int
	Output      *StepOutput
	Error       string
	ErrCategory ErrorCategory
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewStep creates a pending step from its plan specification.
func NewStep(spec StepSpec) *Step {
	return &Step{
		ID:        spec.ID,
		Kind:      spec.Kind,
		GroupID:   spec.GroupID,
		DependsOn: append([]StepID(nil), spec.DependsOn...),
		Inputs:    spec.Inputs,
		Status:    StepStatusPending,
	}
}

// MarkRunning transitions the step to running state.
func (s *Step) MarkRunning() error {
	if s.Status != StepStatusPending {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot start step in %s state", s.Status))
	}
	s.Status = StepStatusRunning
	now := time.Now()
	s.StartedAt = &now
	return nil
}

// MarkSucceeded transitions the step to succeeded state.
func (s *Step) MarkSucceeded(output *StepOutput) error {
	if s.Status != StepStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot succeed step in %s state", s.Status))
	}
	s.Status = StepStatusSucceeded
	s.Output = output
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

// MarkFailed transitions the step to failed state.
func (s *Step) MarkFailed(err error) error {
	if s.Status != StepStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot fail step in %s state", s.Status))
	}
	s.Status = StepStatusFailed
	s.Error = err.Error()
	s.ErrCategory = GetCategory(err)
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

// MarkSkipped transitions the step to skipped state without dispatch.
func (s *Step) MarkSkipped(reason string) error {
	if s.Status != StepStatusPending {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot skip step in %s state", s.Status))
	}
	s.Status = StepStatusSkipped
	s.Error = reason
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

// BlockedBy returns the first declared dependency that did not succeed.
// Dependencies always reference strictly earlier groups, so by the time a
// step is considered for dispatch every dependency is terminal.
func (s *Step) BlockedBy(statuses map[StepID]StepStatus) (StepID, bool) {
	for _, dep := range s.DependsOn {
		if statuses[dep] != StepStatusSucceeded {
			return dep, true
		}
	}
	return "", false
}

// Retryable reports whether this step kind participates in the transient
// retry policy. Write steps are never retried: a failed write must leave no
// partial mutation, and re-issuing it could double-apply.
func (s *Step) Retryable() bool {
	return s.Kind != StepKindWrite
}

// IsTerminal returns true if the step is in a terminal state.
func (s *Step) IsTerminal() bool {
	return s.Status == StepStatusSucceeded ||
		s.Status == StepStatusFailed ||
		s.Status == StepStatusSkipped
}

// IsSuccess returns true if the step succeeded.
func (s *Step) IsSuccess() bool {
	return s.Status == StepStatusSucceeded
}

// Duration returns the step execution duration.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt)
}

// Summary freezes the step into its reportable form.
func (s *Step) Summary() StepSummary {
	sum := StepSummary{
		StepID:      s.ID,
		Kind:        s.Kind,
		GroupID:     s.GroupID,
		Status:      s.Status,
		Refs:        s.Inputs.Refs(),
		Attempts:    s.Attempts,
		Error:       s.Error,
		ErrCategory: s.ErrCategory,
		Duration:    s.Duration(),
	}
	if s.Output != nil {
		out := *s.Output
		sum.Output = &out
	}
	return sum
}

// StepSummary is the immutable result record of one executed step, retained
// for downstream steps during the turn and folded into turn history after.
type StepSummary struct {
	StepID      StepID        `json:"step_id"`
	Kind        StepKind      `json:"kind"`
	GroupID     string        `json:"group_id"`
	Status      StepStatus    `json:"status"`
	Refs        []string      `json:"refs,omitempty"`
	Output      *StepOutput   `json:"output,omitempty"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
	ErrCategory ErrorCategory `json:"error_category,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// StepOutput is the opaque payload a step produces. The scheduler never
// inspects it beyond passing it to later groups and the reply assembler.
type StepOutput struct {
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}
