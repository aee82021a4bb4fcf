package core

import (
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is an immutable record of one exchange. Turns are
// appended at turn end and never mutated; older turns become eligible for
// condensation (replacement by a summary record in the rendered block).
type ConversationTurn struct {
	Index     int       `json:"index"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Condensed bool      `json:"condensed,omitempty"`
}

// TurnStatus is the overall outcome of one executed turn, distinct from
// per-step statuses.
type TurnStatus string

const (
	TurnStatusRunning   TurnStatus = "running"
	TurnStatusCompleted TurnStatus = "completed"
	TurnStatusFailed    TurnStatus = "failed"
	TurnStatusCancelled TurnStatus = "cancelled"
)

// TurnResult is what the scheduler hands back after all groups settle.
type TurnResult struct {
	TurnID      string        `json:"turn_id"`
	SessionID   string        `json:"session_id"`
	Status      TurnStatus    `json:"status"`
	Reply       string        `json:"reply"`
	Summaries   []StepSummary `json:"summaries"`
	Mode        ModeContext   `json:"mode"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Succeeded returns the summaries of steps that reached succeeded state,
// in plan declaration order.
func (r TurnResult) Succeeded() []StepSummary {
	var out []StepSummary
	for _, s := range r.Summaries {
		if s.Status == StepStatusSucceeded {
			out = append(out, s)
		}
	}
	return out
}

// Failed returns the summaries of steps that reached failed state.
func (r TurnResult) Failed() []StepSummary {
	var out []StepSummary
	for _, s := range r.Summaries {
		if s.Status == StepStatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// ContextBlock is the bounded rendering of conversation history handed to
// generate steps. Render always returns a usable block.
type ContextBlock struct {
	Text            string `json:"text"`
	EstimatedTokens int    `json:"estimated_tokens"`
	FullDetailTurns int    `json:"full_detail_turns"`
	// CondensedFrom/CondensedTo is the inclusive turn-index range summarized
	// into the condensed tier; both zero when nothing was condensed.
	CondensedFrom   int  `json:"condensed_from,omitempty"`
	CondensedTo     int  `json:"condensed_to,omitempty"`
	EvictedEntries  int  `json:"evicted_entries,omitempty"`
	Truncated       bool `json:"truncated,omitempty"`
	ProfileIncluded bool `json:"profile_included,omitempty"`
}
