// Package service wires sessions to the turn engine: loading and persisting
// session state through the storage port, rehydrating the reference registry
// and conversation history, and running turns end to end.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/parley-ai/parley/internal/control"
	"github.com/parley-ai/parley/internal/conversation"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/internal/registry"
	"github.com/parley-ai/parley/internal/service/turn"
)

// Settings are the policy knobs a session service applies to every session.
// Zero values select package defaults.
type Settings struct {
	StepTimeout      time.Duration
	TurnTimeout      time.Duration
	MaxRetries       int
	MaxContextTokens int
	FullDetailTurns  int
	EvictAfterTurns  int
	// ProfileStaleAfter bounds how old a cached profile may be before the
	// context manager renders without it.
	ProfileStaleAfter time.Duration
	// CompactAfterTurns triggers in-memory history compaction once retained
	// turns exceed it. Zero selects the default.
	CompactAfterTurns int
}

// DefaultCompactAfterTurns is the retained-turn count that triggers history
// compaction between turns.
const DefaultCompactAfterTurns = 50

// Config wires the session service's collaborators.
type Config struct {
	Store      core.Storage
	Generation core.Generation
	Cache      core.ProfileCache
	Bus        *events.EventBus
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	Settings   Settings
}

// SessionService owns session lifecycle around the turn engine.
type SessionService struct {
	store    core.Storage
	gen      core.Generation
	cache    core.ProfileCache
	bus      *events.EventBus
	logger   *logging.Logger
	metrics  *metrics.Metrics
	settings Settings
}

// NewSessionService creates a session service.
func NewSessionService(cfg Config) *SessionService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	settings := cfg.Settings
	if settings.CompactAfterTurns <= 0 {
		settings.CompactAfterTurns = DefaultCompactAfterTurns
	}
	return &SessionService{
		store:    cfg.Store,
		gen:      cfg.Generation,
		cache:    cfg.Cache,
		bus:      cfg.Bus,
		logger:   logger,
		metrics:  cfg.Metrics,
		settings: settings,
	}
}

// Session is one open session's runtime: persisted state plus the live
// registry, history manager and engine bound to it.
type Session struct {
	State    *core.SessionState
	Registry *registry.Registry
	History  *conversation.Manager

	engine         *turn.Engine
	persistedTurns int
}

// Open loads a session by id, rehydrating history and references, or
// creates a fresh one when the id is empty or unknown.
func (s *SessionService) Open(ctx context.Context, sessionID, userID string) (*Session, error) {
	state, err := s.loadState(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		State:    state,
		Registry: registry.New(s.settings.EvictAfterTurns),
		History:  conversation.New(s.settings.FullDetailTurns),
	}
	sess.engine = turn.NewEngine(turn.Config{
		Store:            s.store,
		Generation:       s.gen,
		History:          sess.History,
		Logger:           s.logger,
		Metrics:          s.metrics,
		StepTimeout:      s.settings.StepTimeout,
		TurnTimeout:      s.settings.TurnTimeout,
		MaxRetries:       s.settings.MaxRetries,
		MaxContextTokens: s.settings.MaxContextTokens,
	})

	if err := s.rehydrate(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("session opened",
		"session_id", state.ID,
		"user_id", state.UserID,
		"turns", sess.History.Len(),
		"refs", sess.Registry.Len(),
	)
	return sess, nil
}

// ExecuteTurn runs one turn against the session and persists the outcome.
// The returned result is always usable; the error is non-nil only when
// persistence itself failed.
func (s *SessionService) ExecuteTurn(ctx context.Context, sess *Session, plan core.TurnPlan,
	userMessage string, override core.Mode, ctrl *control.Plane) (core.TurnResult, error) {

	mode := core.ResolveMode(sess.State.Preferences, override)

	if evicted := sess.Registry.BeginTurn(sess.State.TurnCount + 1); evicted > 0 {
		if s.metrics != nil {
			s.metrics.RegistryEvictedTotal.Add(float64(evicted))
		}
		s.logger.Debug("evicted stale refs", "session_id", sess.State.ID, "count", evicted)
	}

	s.installProfile(ctx, sess)

	var notifier core.Notifier
	if s.bus != nil {
		notifier = events.NewBusNotifier(s.bus, sess.State.ID)
	}

	res := sess.engine.Execute(ctx, turn.Request{
		Session:     sess.State,
		Plan:        plan,
		Mode:        mode,
		Registry:    sess.Registry,
		Control:     ctrl,
		Notifier:    notifier,
		UserMessage: userMessage,
	})

	s.compactIfNeeded(sess)

	if err := s.Save(ctx, sess); err != nil {
		return res, err
	}
	return res, nil
}

// Save persists the session state, any new turns, and the live references.
func (s *SessionService) Save(ctx context.Context, sess *Session) error {
	sess.State.Refs = sess.Registry.Snapshot()

	body, err := json.Marshal(sess.State)
	if err != nil {
		return core.ErrInternal("encoding session state").WithCause(err)
	}
	_, err = s.store.Upsert(ctx, core.CollectionSessions, []core.Row{{
		"id":      sess.State.ID,
		"user_id": sess.State.UserID,
		"body":    string(body),
	}})
	if err != nil {
		return err
	}

	turns := sess.History.Turns()
	if sess.persistedTurns < len(turns) {
		rows := make([]core.Row, 0, len(turns)-sess.persistedTurns)
		for _, t := range turns[sess.persistedTurns:] {
			rows = append(rows, core.Row{
				"id":         fmt.Sprintf("%s-t%d", sess.State.ID, t.Index),
				"session_id": sess.State.ID,
				"user_id":    sess.State.UserID,
				"idx":        t.Index,
				"role":       string(t.Role),
				"text":       t.Text,
				"condensed":  t.Condensed,
				"timestamp":  t.Timestamp.UTC().Format(time.RFC3339Nano),
			})
		}
		if _, err := s.store.Upsert(ctx, core.CollectionTurns, rows); err != nil {
			return err
		}
		sess.persistedTurns = len(turns)
	}

	refs := sess.State.Refs
	if len(refs) > 0 {
		rows := make([]core.Row, 0, len(refs))
		for _, ref := range refs {
			rows = append(rows, core.Row{
				"id":             fmt.Sprintf("%s-%s", sess.State.ID, ref.Token),
				"session_id":     sess.State.ID,
				"user_id":        sess.State.UserID,
				"token":          ref.Token,
				"kind":           ref.Kind,
				"backing_id":     ref.BackingID,
				"last_seen_turn": ref.LastSeenTurn,
			})
		}
		if _, err := s.store.Upsert(ctx, core.CollectionEntities, rows); err != nil {
			return err
		}
	}
	return nil
}

// loadState fetches or creates the persisted session aggregate.
func (s *SessionService) loadState(ctx context.Context, sessionID, userID string) (*core.SessionState, error) {
	if sessionID == "" {
		return core.NewSessionState(userID), nil
	}

	rows, err := s.store.Select(ctx, core.CollectionSessions, core.Filter{"id": sessionID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		state := core.NewSessionState(userID)
		state.ID = sessionID
		return state, nil
	}

	body, _ := rows[0]["body"].(string)
	state := &core.SessionState{}
	if err := json.Unmarshal([]byte(body), state); err != nil {
		return nil, core.ErrInternal("decoding session state").WithCause(err)
	}
	if userID != "" && state.UserID == "" {
		state.UserID = userID
	}
	return state, nil
}

// rehydrate restores history and references for a previously saved session.
func (s *SessionService) rehydrate(ctx context.Context, sess *Session) error {
	rows, err := s.store.Select(ctx, core.CollectionTurns, core.Filter{"session_id": sess.State.ID})
	if err != nil {
		return err
	}

	turns := make([]core.ConversationTurn, 0, len(rows))
	for _, row := range rows {
		t := core.ConversationTurn{
			Index:     asInt(row["idx"]),
			Role:      core.Role(asString(row["role"])),
			Text:      asString(row["text"]),
			Condensed: row["condensed"] == true,
		}
		if ts, err := time.Parse(time.RFC3339Nano, asString(row["timestamp"])); err == nil {
			t.Timestamp = ts
		}
		turns = append(turns, t)
	}
	// Select order is not guaranteed; history must be chronological.
	sortTurns(turns)
	for _, t := range turns {
		sess.History.Append(t)
	}
	sess.persistedTurns = len(turns)

	sess.Registry.Restore(sess.State.Refs)
	return nil
}

// installProfile places the cached user profile fragment ahead of the
// rendered history when present and fresh. Missing or stale profiles degrade
// silently: the turn never blocks or fails on the cache.
func (s *SessionService) installProfile(ctx context.Context, sess *Session) {
	if s.cache == nil || sess.State.UserID == "" {
		return
	}

	snap, err := s.cache.Get(ctx, sess.State.UserID)
	if err != nil || snap == nil {
		sess.History.SetProfile("")
		return
	}
	if snap.Stale(s.settings.ProfileStaleAfter, time.Now()) {
		s.logger.Debug("cached profile is stale", "user_id", sess.State.UserID, "built_at", snap.BuiltAt)
		sess.History.SetProfile("")
		return
	}
	sess.History.SetProfile(snap.Profile.PromptFragment)
}

// compactIfNeeded condenses old in-memory turns between turns; the backing
// store keeps the originals.
func (s *SessionService) compactIfNeeded(sess *Session) {
	if sess.History.Len() <= s.settings.CompactAfterTurns {
		return
	}
	keep := s.settings.FullDetailTurns
	if keep <= 0 {
		keep = conversation.DefaultFullDetailTurns
	}
	if n := sess.History.Compact(keep * 2); n > 0 {
		s.logger.Debug("compacted history", "session_id", sess.State.ID, "condensed", n)
		if s.bus != nil {
			s.bus.Publish(events.NewContextCondensedEvent(sess.State.ID, n))
		}
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func sortTurns(turns []core.ConversationTurn) {
	sort.Slice(turns, func(i, j int) bool { return turns[i].Index < turns[j].Index })
}
