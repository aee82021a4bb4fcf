package core

import (
	"time"

	"github.com/google/uuid"
)

// EntityRef is a lightweight handle mapping an opaque session-scoped token
// to a backing-store id. A token maps to exactly one backing id for the
// lifetime of the session and is never reused for a different one.
type EntityRef struct {
	Token        string `json:"token"`
	Kind         string `json:"kind"`
	BackingID    string `json:"backing_id"`
	LastSeenTurn int    `json:"last_seen_turn"`
}

// SessionPreferences are the stored per-session settings the mode resolver
// consumes. Zero overrides mean "use the mode's default budget".
type SessionPreferences struct {
	Mode             Mode `json:"mode,omitempty"`
	MaxParallelSteps int  `json:"max_parallel_steps,omitempty"`
	MaxContextTurns  int  `json:"max_context_turns,omitempty"`
}

// SessionState is the single mutable aggregate threaded through a turn:
// identity, preferences, live entity references and turn counters. The
// orchestrator owns it exclusively for the duration of one turn; it is
// persisted at turn boundaries through the Storage port.
type SessionState struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Preferences SessionPreferences `json:"preferences"`
	TurnCount   int                `json:"turn_count"`
	Refs        []EntityRef        `json:"refs,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewSessionState creates a fresh session for a user.
func NewSessionState(userID string) *SessionState {
	now := time.Now()
	return &SessionState{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextTurnIndex advances and returns the monotonic turn counter.
func (s *SessionState) NextTurnIndex() int {
	s.TurnCount++
	return s.TurnCount
}
