package core

import (
	"context"
	"encoding/json"
)

// =============================================================================
// Storage Port
// =============================================================================

// Filter selects rows by exact field match. An empty filter matches all rows
// in a collection.
type Filter map[string]interface{}

// Row is one stored record. The "id" field, when present, is the durable
// backing-store id; adapters allocate one on upsert if it is missing.
type Row map[string]interface{}

// ID returns the row's backing-store id, or empty if unset.
func (r Row) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// Storage is the external persistence collaborator, reached through
// table-like collections. The core treats it as eventually consistent,
// expects a store-category error on connectivity loss, and never assumes
// server-side triggers. Upsert applies its batch atomically: on failure no
// partial mutation is visible.
type Storage interface {
	// Select returns rows matching the filter.
	Select(ctx context.Context, collection string, filter Filter) ([]Row, error)

	// Upsert inserts or replaces the batch and returns the row ids in order.
	Upsert(ctx context.Context, collection string, rows []Row) ([]string, error)

	// Delete removes matching rows and returns how many went away.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)
}

// Well-known collections used by the session service and profile builder.
const (
	CollectionSessions = "sessions"
	CollectionTurns    = "turns"
	CollectionEntities = "entities"
	CollectionProfiles = "profiles"
)

// =============================================================================
// Generation Port
// =============================================================================

// GenerationRequest is the structured prompt handed to the backend.
type GenerationRequest struct {
	System    string
	Context   string // rendered context block, possibly empty
	Prompt    string
	Schema    json.RawMessage // optional JSON schema for structured output
	MaxTokens int
}

// GenerationResult is what the backend returns: free text, or structured
// output when a schema was supplied.
type GenerationResult struct {
	Text       string
	Structured json.RawMessage
	Model      string
	TokensIn   int
	TokensOut  int
}

// Generation is the external generation backend collaborator. Failures
// surface as rate_limit, timeout or validation (INVALID_RESPONSE) domain
// errors; only the first two are transient.
type Generation interface {
	Complete(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// =============================================================================
// Reference Registry Port
// =============================================================================

// ReferenceRegistry is the session-scoped entity reference registry the
// scheduler hands to steps. Register and Touch serialize internally; Resolve
// is safe for concurrent readers. It is the single source of truth for
// entity identity within a session.
type ReferenceRegistry interface {
	// Register returns the existing token for (kind, backingID) or allocates
	// a new opaque one. Never fails.
	Register(kind, backingID string) string

	// Resolve maps a token back to its backing id, or a not_found error.
	Resolve(token string) (string, error)

	// Touch records that the token was seen at the given turn index.
	Touch(token string, turnIndex int)

	// Snapshot returns a stable-ordered copy of the live references.
	Snapshot() []EntityRef
}

// =============================================================================
// Context Manager Port
// =============================================================================

// ContextManager maintains rolling turn history and renders it bounded.
type ContextManager interface {
	// Append adds a turn; amortized O(1).
	Append(turn ConversationTurn)

	// Render produces a bounded context block for generation. It never
	// fails; an oversized lone turn is truncated with an explicit marker.
	Render(maxTokens int, mode ModeContext) ContextBlock
}

// =============================================================================
// Profile Cache Port
// =============================================================================

// ProfileCache holds built profile snapshots keyed by user id. The turn path
// only reads; the background profile builder is the only writer.
type ProfileCache interface {
	// Get returns the latest snapshot, or a not_found error when absent.
	Get(ctx context.Context, userID string) (*ProfileSnapshot, error)

	// Put publishes a snapshot, replacing any previous one for the user.
	Put(ctx context.Context, snap ProfileSnapshot) error

	Close() error
}

// =============================================================================
// Notifier Port
// =============================================================================

// Notifier receives human-facing progress callbacks during a turn. Callbacks
// fire from step goroutines and must be safe for concurrent use.
type Notifier interface {
	TurnStarted(sessionID, turnID string, groups, steps int)
	StepStarted(stepID StepID, kind StepKind)
	StepFinished(sum StepSummary)
	TurnFinished(res TurnResult)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) TurnStarted(string, string, int, int) {}
func (NopNotifier) StepStarted(StepID, StepKind)         {}
func (NopNotifier) StepFinished(StepSummary)             {}
func (NopNotifier) TurnFinished(TurnResult)              {}

// MaxInlineOutputBytes caps how much of a step output is inlined into reply
// digests and turn history; longer payloads are clipped.
const MaxInlineOutputBytes = 10000
