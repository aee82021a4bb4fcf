package events

import (
	"time"

	"github.com/parley-ai/parley/internal/core"
)

// Event type constants for turn lifecycle events.
const (
	TypeTurnStarted      = "turn_started"
	TypeStepStarted      = "step_started"
	TypeStepFinished     = "step_finished"
	TypeTurnFinished     = "turn_finished"
	TypeProfileUpdated   = "profile_updated"
	TypeContextCondensed = "context_condensed"
)

// TurnStartedEvent is emitted when the scheduler accepts a turn plan.
type TurnStartedEvent struct {
	BaseEvent
	TurnID string `json:"turn_id"`
	Groups int    `json:"groups"`
	Steps  int    `json:"steps"`
}

// NewTurnStartedEvent creates a new turn started event.
func NewTurnStartedEvent(sessionID, turnID string, groups, steps int) TurnStartedEvent {
	return TurnStartedEvent{
		BaseEvent: NewBaseEvent(TypeTurnStarted, sessionID),
		TurnID:    turnID,
		Groups:    groups,
		Steps:     steps,
	}
}

// StepStartedEvent is emitted when a step enters running state.
type StepStartedEvent struct {
	BaseEvent
	TurnID string        `json:"turn_id"`
	StepID core.StepID   `json:"step_id"`
	Kind   core.StepKind `json:"kind"`
}

// NewStepStartedEvent creates a new step started event.
func NewStepStartedEvent(sessionID, turnID string, stepID core.StepID, kind core.StepKind) StepStartedEvent {
	return StepStartedEvent{
		BaseEvent: NewBaseEvent(TypeStepStarted, sessionID),
		TurnID:    turnID,
		StepID:    stepID,
		Kind:      kind,
	}
}

// StepFinishedEvent is emitted when a step reaches a terminal state.
type StepFinishedEvent struct {
	BaseEvent
	TurnID  string           `json:"turn_id"`
	Summary core.StepSummary `json:"summary"`
}

// NewStepFinishedEvent creates a new step finished event.
func NewStepFinishedEvent(sessionID, turnID string, sum core.StepSummary) StepFinishedEvent {
	return StepFinishedEvent{
		BaseEvent: NewBaseEvent(TypeStepFinished, sessionID),
		TurnID:    turnID,
		Summary:   sum,
	}
}

// TurnFinishedEvent is emitted when all groups settle, with the final result.
type TurnFinishedEvent struct {
	BaseEvent
	Result core.TurnResult `json:"result"`
}

// NewTurnFinishedEvent creates a new turn finished event.
func NewTurnFinishedEvent(sessionID string, res core.TurnResult) TurnFinishedEvent {
	return TurnFinishedEvent{
		BaseEvent: NewBaseEvent(TypeTurnFinished, sessionID),
		Result:    res,
	}
}

// ProfileUpdatedEvent is emitted when the background builder publishes a
// fresh profile snapshot.
type ProfileUpdatedEvent struct {
	BaseEvent
	UserID  string    `json:"user_id"`
	BuiltAt time.Time `json:"built_at"`
	Turns   int       `json:"turns"`
}

// NewProfileUpdatedEvent creates a new profile updated event.
func NewProfileUpdatedEvent(userID string, builtAt time.Time, turns int) ProfileUpdatedEvent {
	return ProfileUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeProfileUpdated, ""),
		UserID:    userID,
		BuiltAt:   builtAt,
		Turns:     turns,
	}
}

// ContextCondensedEvent is emitted when history compaction condenses turns.
type ContextCondensedEvent struct {
	BaseEvent
	Condensed int `json:"condensed"`
}

// NewContextCondensedEvent creates a new context condensed event.
func NewContextCondensedEvent(sessionID string, condensed int) ContextCondensedEvent {
	return ContextCondensedEvent{
		BaseEvent: NewBaseEvent(TypeContextCondensed, sessionID),
		Condensed: condensed,
	}
}
