package core

import "time"

// UserProfile is the precomputed summary of a user's history consumed
// read-only by the context manager when rendering.
type UserProfile struct {
	UserID         string         `json:"user_id"`
	Summary        string         `json:"summary"`
	PromptFragment string         `json:"prompt_fragment"`
	TurnCount      int            `json:"turn_count"`
	EntityKinds    map[string]int `json:"entity_kinds,omitempty"`
	RecentTopics   []string       `json:"recent_topics,omitempty"`
}

// ProfileSnapshot pairs a built profile with its freshness timestamp, as
// published to the profile cache keyed by user id.
type ProfileSnapshot struct {
	Profile UserProfile `json:"profile"`
	BuiltAt time.Time   `json:"built_at"`
}

// Stale reports whether the snapshot is older than maxAge at the given
// instant. A non-positive maxAge means snapshots never go stale.
func (s ProfileSnapshot) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.BuiltAt) > maxAge
}
