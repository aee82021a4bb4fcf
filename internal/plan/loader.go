// Package plan loads turn plans from YAML files and builds the default
// conversational plan used when no file is given.
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/parley-ai/parley/internal/core"
)

// planValidate checks structural constraints before conversion; plan-level
// rules (dependency direction, duplicate ids) live in core.TurnPlan.Validate.
var planValidate = validator.New()

// File is the on-disk YAML representation of a turn plan.
type File struct {
	Name   string      `yaml:"name"`
	Groups []GroupFile `yaml:"groups" validate:"required,min=1,dive"`
}

// GroupFile is one step group.
type GroupFile struct {
	ID    string     `yaml:"id" validate:"required"`
	Steps []StepFile `yaml:"steps" validate:"required,min=1,dive"`
}

// StepFile is one step. Exactly one of the kind-specific sections must be
// present, matching kind.
type StepFile struct {
	ID        string   `yaml:"id" validate:"required"`
	Kind      string   `yaml:"kind" validate:"required,oneof=read analyze generate write"`
	DependsOn []string `yaml:"depends_on"`

	Read     *ReadFile     `yaml:"read"`
	Analyze  *AnalyzeFile  `yaml:"analyze"`
	Generate *GenerateFile `yaml:"generate"`
	Write    *WriteFile    `yaml:"write"`
}

// ReadFile configures a read step.
type ReadFile struct {
	Collection string                 `yaml:"collection" validate:"required"`
	Filter     map[string]interface{} `yaml:"filter"`
	Limit      int                    `yaml:"limit" validate:"min=0"`
	RefKind    string                 `yaml:"ref_kind"`
}

// AnalyzeFile configures an analyze step.
type AnalyzeFile struct {
	Refs  []string `yaml:"refs"`
	Focus string   `yaml:"focus"`
}

// GenerateFile configures a generate step.
type GenerateFile struct {
	Prompt     string                 `yaml:"prompt" validate:"required"`
	Refs       []string               `yaml:"refs"`
	Schema     map[string]interface{} `yaml:"schema"`
	UseContext bool                   `yaml:"use_context"`
	MaxTokens  int                    `yaml:"max_tokens" validate:"min=0"`
}

// WriteFile configures a write step.
type WriteFile struct {
	Collection string                   `yaml:"collection" validate:"required"`
	Rows       []map[string]interface{} `yaml:"rows"`
	Delete     map[string]interface{}   `yaml:"delete"`
}

// Load reads and converts a plan file. The returned plan has already passed
// full plan validation.
func Load(path string) (core.TurnPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.TurnPlan{}, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("reading plan file: %v", err))
	}
	return Parse(raw)
}

// Parse converts YAML plan bytes into a validated TurnPlan.
func Parse(raw []byte) (core.TurnPlan, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return core.TurnPlan{}, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("parsing plan: %v", err)).WithCause(err)
	}
	if err := planValidate.Struct(&file); err != nil {
		return core.TurnPlan{}, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid plan: %v", err)).WithCause(err)
	}

	plan, err := file.toPlan()
	if err != nil {
		return core.TurnPlan{}, err
	}
	if err := plan.Validate(); err != nil {
		return core.TurnPlan{}, err
	}
	return plan, nil
}

func (f *File) toPlan() (core.TurnPlan, error) {
	plan := core.TurnPlan{Groups: make([]core.StepGroup, 0, len(f.Groups))}
	for _, g := range f.Groups {
		group := core.StepGroup{ID: g.ID, Steps: make([]core.StepSpec, 0, len(g.Steps))}
		for _, s := range g.Steps {
			spec, err := s.toSpec(g.ID)
			if err != nil {
				return core.TurnPlan{}, err
			}
			group.Steps = append(group.Steps, spec)
		}
		plan.Groups = append(plan.Groups, group)
	}
	return plan, nil
}

func (s *StepFile) toSpec(groupID string) (core.StepSpec, error) {
	deps := make([]core.StepID, 0, len(s.DependsOn))
	for _, d := range s.DependsOn {
		deps = append(deps, core.StepID(d))
	}

	var inputs core.StepInputs
	switch core.StepKind(s.Kind) {
	case core.StepKindRead:
		if s.Read == nil {
			return core.StepSpec{}, stepErr(s.ID, "read step needs a read section")
		}
		inputs.Read = &core.ReadInputs{
			Collection: s.Read.Collection,
			Filter:     core.Filter(s.Read.Filter),
			Limit:      s.Read.Limit,
			RefKind:    s.Read.RefKind,
		}
	case core.StepKindAnalyze:
		if s.Analyze == nil {
			return core.StepSpec{}, stepErr(s.ID, "analyze step needs an analyze section")
		}
		inputs.Analyze = &core.AnalyzeInputs{
			Refs:  s.Analyze.Refs,
			Focus: s.Analyze.Focus,
		}
	case core.StepKindGenerate:
		if s.Generate == nil {
			return core.StepSpec{}, stepErr(s.ID, "generate step needs a generate section")
		}
		var schema json.RawMessage
		if len(s.Generate.Schema) > 0 {
			raw, err := json.Marshal(s.Generate.Schema)
			if err != nil {
				return core.StepSpec{}, stepErr(s.ID, "schema is not encodable")
			}
			schema = raw
		}
		inputs.Generate = &core.GenerateInputs{
			Prompt:     s.Generate.Prompt,
			Refs:       s.Generate.Refs,
			Schema:     schema,
			UseContext: s.Generate.UseContext,
			MaxTokens:  s.Generate.MaxTokens,
		}
	case core.StepKindWrite:
		if s.Write == nil {
			return core.StepSpec{}, stepErr(s.ID, "write step needs a write section")
		}
		rows := make([]core.Row, 0, len(s.Write.Rows))
		for _, r := range s.Write.Rows {
			rows = append(rows, core.Row(r))
		}
		inputs.Write = &core.WriteInputs{
			Collection: s.Write.Collection,
			Rows:       rows,
			Delete:     core.Filter(s.Write.Delete),
		}
	default:
		return core.StepSpec{}, stepErr(s.ID, fmt.Sprintf("unknown step kind %q", s.Kind))
	}

	return core.StepSpec{
		ID:        core.StepID(s.ID),
		Kind:      core.StepKind(s.Kind),
		GroupID:   groupID,
		DependsOn: deps,
		Inputs:    inputs,
	}, nil
}

func stepErr(stepID, msg string) error {
	return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("step %s: %s", stepID, msg))
}
