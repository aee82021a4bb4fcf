// Package registry maintains the session-scoped mapping between opaque
// reference tokens and backing-store ids. Steps hand tokens to the generation
// backend instead of raw ids; the registry is the only place the two meet.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/core"
)

// DefaultEvictAfterTurns is how many turns a reference may go unseen before
// eviction removes it.
const DefaultEvictAfterTurns = 20

var _ core.ReferenceRegistry = (*Registry)(nil)

type refKey struct {
	kind      string
	backingID string
}

// Registry is a concurrency-safe reference registry. One instance exists per
// session; the scheduler shares it across parallel steps.
type Registry struct {
	mu          sync.RWMutex
	byToken     map[string]*core.EntityRef
	byKey       map[refKey]string
	evictAfter  int
	currentTurn int
}

// New creates an empty registry. evictAfter <= 0 selects the default window.
func New(evictAfter int) *Registry {
	if evictAfter <= 0 {
		evictAfter = DefaultEvictAfterTurns
	}
	return &Registry{
		byToken:    make(map[string]*core.EntityRef),
		byKey:      make(map[refKey]string),
		evictAfter: evictAfter,
	}
}

// BeginTurn advances the registry to the given turn index and evicts
// references unseen for the configured window. Returns how many were evicted.
func (r *Registry) BeginTurn(turnIndex int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentTurn = turnIndex

	evicted := 0
	for token, ref := range r.byToken {
		if turnIndex-ref.LastSeenTurn >= r.evictAfter {
			delete(r.byToken, token)
			delete(r.byKey, refKey{kind: ref.Kind, backingID: ref.BackingID})
			evicted++
		}
	}
	return evicted
}

// Register returns the existing token for (kind, backingID) or allocates a
// new opaque one. Registration is idempotent within the eviction window; a
// reference that was evicted gets a fresh token on re-registration.
func (r *Registry) Register(kind, backingID string) string {
	if kind == "" {
		kind = "ref"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := refKey{kind: kind, backingID: backingID}
	if token, ok := r.byKey[key]; ok {
		r.byToken[token].LastSeenTurn = r.currentTurn
		return token
	}

	token := newToken(kind)
	r.byToken[token] = &core.EntityRef{
		Token:        token,
		Kind:         kind,
		BackingID:    backingID,
		LastSeenTurn: r.currentTurn,
	}
	r.byKey[key] = token
	return token
}

// Resolve maps a token back to its backing-store id.
func (r *Registry) Resolve(token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.byToken[token]
	if !ok {
		return "", core.ErrTokenNotFound(token)
	}
	return ref.BackingID, nil
}

// ResolveRef returns the full reference for a token.
func (r *Registry) ResolveRef(token string) (core.EntityRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.byToken[token]
	if !ok {
		return core.EntityRef{}, core.ErrTokenNotFound(token)
	}
	return *ref, nil
}

// Touch records that the token was seen at the given turn index. Unknown
// tokens are ignored; last-seen never moves backwards.
func (r *Registry) Touch(token string, turnIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.byToken[token]
	if !ok {
		return
	}
	if turnIndex > ref.LastSeenTurn {
		ref.LastSeenTurn = turnIndex
	}
}

// Snapshot returns a copy of the live references, most recently seen first,
// ties broken by token for stable output.
func (r *Registry) Snapshot() []core.EntityRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]core.EntityRef, 0, len(r.byToken))
	for _, ref := range r.byToken {
		refs = append(refs, *ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].LastSeenTurn != refs[j].LastSeenTurn {
			return refs[i].LastSeenTurn > refs[j].LastSeenTurn
		}
		return refs[i].Token < refs[j].Token
	})
	return refs
}

// Restore rehydrates references from persisted session state. Existing
// entries with the same token are replaced.
func (r *Registry) Restore(refs []core.EntityRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range refs {
		if ref.Token == "" || ref.BackingID == "" {
			continue
		}
		stored := ref
		r.byToken[ref.Token] = &stored
		r.byKey[refKey{kind: ref.Kind, backingID: ref.BackingID}] = ref.Token
	}
}

// Len returns the number of live references.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// newToken mints an opaque, kind-prefixed token. The random tail carries no
// trace of the backing id.
func newToken(kind string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return kind + "-" + raw[:12]
}
