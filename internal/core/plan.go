package core

import (
	"encoding/json"
	"fmt"
)

// TurnPlan is the input to the scheduler: an ordered sequence of groups.
// Groups execute in sequence; steps inside a group may execute concurrently
// and must be mutually independent by construction. The scheduler executes
// plans, it never builds or reorders them.
type TurnPlan struct {
	Groups []StepGroup `json:"groups"`
}

// StepGroup is a set of steps declared mutually independent.
type StepGroup struct {
	ID    string     `json:"id"`
	Steps []StepSpec `json:"steps"`
}

// StepSpec is the planner-supplied specification of one step.
type StepSpec struct {
	ID        StepID     `json:"id"`
	Kind      StepKind   `json:"kind"`
	GroupID   string     `json:"group_id"`
	DependsOn []StepID   `json:"depends_on,omitempty"`
	Inputs    StepInputs `json:"inputs"`
}

// NewStepSpec builds a validated step specification.
func NewStepSpec(id StepID, kind StepKind, groupID string, inputs StepInputs, deps ...StepID) (StepSpec, error) {
	spec := StepSpec{
		ID:        id,
		Kind:      kind,
		GroupID:   groupID,
		DependsOn: deps,
		Inputs:    inputs,
	}
	if err := spec.Validate(); err != nil {
		return StepSpec{}, err
	}
	return spec, nil
}

// Validate checks the spec in isolation: id, kind and the inputs arm.
func (s StepSpec) Validate() error {
	if s.ID == "" {
		return ErrValidation("STEP_ID_REQUIRED", "step id cannot be empty")
	}
	if !ValidStepKind(s.Kind) {
		return ErrValidation(CodeInvalidPlan, fmt.Sprintf("step %s: unknown kind %q", s.ID, s.Kind))
	}
	if err := s.Inputs.Validate(s.Kind); err != nil {
		return err
	}
	return nil
}

// StepInputs is a tagged union over the four step kinds. Exactly the arm
// matching the step kind must be set; this is checked at construction, not
// at use sites.
type StepInputs struct {
	Read     *ReadInputs     `json:"read,omitempty"`
	Analyze  *AnalyzeInputs  `json:"analyze,omitempty"`
	Generate *GenerateInputs `json:"generate,omitempty"`
	Write    *WriteInputs    `json:"write,omitempty"`
}

// ReadInputs queries the storage collaborator.
type ReadInputs struct {
	Collection string `json:"collection"`
	Filter     Filter `json:"filter,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	// RefKind, when set, registers each returned row id with the session
	// registry under this entity kind.
	RefKind string `json:"ref_kind,omitempty"`
}

// AnalyzeInputs drives local computation over registry refs and the outputs
// of strictly earlier groups.
type AnalyzeInputs struct {
	Refs  []string `json:"refs,omitempty"`
	Focus string   `json:"focus,omitempty"`
}

// GenerateInputs calls the generation backend.
type GenerateInputs struct {
	Prompt     string          `json:"prompt"`
	Refs       []string        `json:"refs,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	UseContext bool            `json:"use_context,omitempty"`
	MaxTokens  int             `json:"max_tokens,omitempty"`
}

// WriteInputs mutates the storage collaborator. Exactly one of Rows (batch
// upsert) or Delete (filtered delete) must be set; the batch is applied
// atomically so a failed write leaves no partial mutation visible.
type WriteInputs struct {
	Collection string `json:"collection"`
	Rows       []Row  `json:"rows,omitempty"`
	Delete     Filter `json:"delete,omitempty"`
}

// Validate checks that exactly the arm matching kind is populated.
func (in StepInputs) Validate(kind StepKind) error {
	set := 0
	if in.Read != nil {
		set++
	}
	if in.Analyze != nil {
		set++
	}
	if in.Generate != nil {
		set++
	}
	if in.Write != nil {
		set++
	}
	if set != 1 {
		return ErrValidation(CodeInvalidInputs, fmt.Sprintf("step inputs must set exactly one arm, got %d", set))
	}

	switch kind {
	case StepKindRead:
		if in.Read == nil {
			return ErrValidation(CodeInvalidInputs, "read step requires read inputs")
		}
		if in.Read.Collection == "" {
			return ErrValidation(CodeInvalidInputs, "read step requires a collection")
		}
	case StepKindAnalyze:
		if in.Analyze == nil {
			return ErrValidation(CodeInvalidInputs, "analyze step requires analyze inputs")
		}
	case StepKindGenerate:
		if in.Generate == nil {
			return ErrValidation(CodeInvalidInputs, "generate step requires generate inputs")
		}
		if in.Generate.Prompt == "" {
			return ErrValidation(CodeInvalidInputs, "generate step requires a prompt")
		}
	case StepKindWrite:
		if in.Write == nil {
			return ErrValidation(CodeInvalidInputs, "write step requires write inputs")
		}
		if in.Write.Collection == "" {
			return ErrValidation(CodeInvalidInputs, "write step requires a collection")
		}
		hasRows := len(in.Write.Rows) > 0
		hasDelete := len(in.Write.Delete) > 0
		if hasRows == hasDelete {
			return ErrValidation(CodeInvalidInputs, "write step requires exactly one of rows or delete")
		}
	default:
		return ErrValidation(CodeInvalidPlan, fmt.Sprintf("unknown step kind %q", kind))
	}
	return nil
}

// Refs returns the reference tokens this step consumes, for StepSummary.
func (in StepInputs) Refs() []string {
	switch {
	case in.Analyze != nil:
		return append([]string(nil), in.Analyze.Refs...)
	case in.Generate != nil:
		return append([]string(nil), in.Generate.Refs...)
	}
	return nil
}

// Validate checks plan structure: unique step ids, group ids present, every
// spec well-formed, and every dependency resolving to a step in a strictly
// earlier group. The earlier-group rule makes cycles and same-group
// dependencies impossible by construction.
func (p TurnPlan) Validate() error {
	if len(p.Groups) == 0 {
		return ErrValidation(CodeInvalidPlan, "plan has no groups")
	}

	groupIndex := make(map[StepID]int)
	seenGroups := make(map[string]bool)
	for gi, group := range p.Groups {
		if group.ID == "" {
			return ErrValidation(CodeInvalidPlan, fmt.Sprintf("group %d has no id", gi))
		}
		if seenGroups[group.ID] {
			return ErrValidation(CodeInvalidPlan, fmt.Sprintf("duplicate group id %q", group.ID))
		}
		seenGroups[group.ID] = true
		if len(group.Steps) == 0 {
			return ErrValidation(CodeInvalidPlan, fmt.Sprintf("group %q has no steps", group.ID))
		}
		for _, spec := range group.Steps {
			if err := spec.Validate(); err != nil {
				return err
			}
			if spec.GroupID != "" && spec.GroupID != group.ID {
				return ErrValidation(CodeInvalidPlan,
					fmt.Sprintf("step %s declares group %q but sits in group %q", spec.ID, spec.GroupID, group.ID))
			}
			if _, dup := groupIndex[spec.ID]; dup {
				return ErrValidation(CodeDuplicateStep, fmt.Sprintf("duplicate step id %q", spec.ID))
			}
			groupIndex[spec.ID] = gi
		}
	}

	for gi, group := range p.Groups {
		for _, spec := range group.Steps {
			for _, dep := range spec.DependsOn {
				depGroup, ok := groupIndex[dep]
				if !ok {
					return ErrValidation(CodeUnknownDependency,
						fmt.Sprintf("step %s depends on unknown step %q", spec.ID, dep))
				}
				if depGroup == gi {
					return ErrValidation(CodeSameGroupDependency,
						fmt.Sprintf("step %s depends on same-group step %q", spec.ID, dep))
				}
				if depGroup > gi {
					return ErrValidation(CodeDependencyCycle,
						fmt.Sprintf("step %s depends on later-group step %q", spec.ID, dep))
				}
			}
		}
	}
	return nil
}

// TotalSteps returns the number of steps across all groups.
func (p TurnPlan) TotalSteps() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Steps)
	}
	return n
}

// Specs returns all step specifications in plan declaration order.
func (p TurnPlan) Specs() []StepSpec {
	specs := make([]StepSpec, 0, p.TotalSteps())
	for _, g := range p.Groups {
		specs = append(specs, g.Steps...)
	}
	return specs
}
