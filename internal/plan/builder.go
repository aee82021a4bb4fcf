package plan

import "github.com/parley-ai/parley/internal/core"

// Conversational builds the default single-group plan for a free-form chat
// message: one generate step answering against the rendered conversation
// context.
func Conversational(message string) core.TurnPlan {
	return core.TurnPlan{Groups: []core.StepGroup{{
		ID: "reply",
		Steps: []core.StepSpec{{
			ID:      "respond",
			Kind:    core.StepKindGenerate,
			GroupID: "reply",
			Inputs: core.StepInputs{Generate: &core.GenerateInputs{
				Prompt:     message,
				UseContext: true,
			}},
		}},
	}}}
}

// Recall builds the two-group plan used when the user asks about stored
// entities: load matching documents and register references, then answer
// with them in view.
func Recall(message, collection, refKind string) core.TurnPlan {
	return core.TurnPlan{Groups: []core.StepGroup{
		{
			ID: "gather",
			Steps: []core.StepSpec{{
				ID:      "load",
				Kind:    core.StepKindRead,
				GroupID: "gather",
				Inputs: core.StepInputs{Read: &core.ReadInputs{
					Collection: collection,
					RefKind:    refKind,
				}},
			}},
		},
		{
			ID: "reply",
			Steps: []core.StepSpec{{
				ID:        "respond",
				Kind:      core.StepKindGenerate,
				GroupID:   "reply",
				DependsOn: []core.StepID{"load"},
				Inputs: core.StepInputs{Generate: &core.GenerateInputs{
					Prompt:     message,
					UseContext: true,
				}},
			}},
		},
	}}
}
