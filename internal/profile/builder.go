// Package profile implements the background profile builder: a periodic
// worker that aggregates a user's persisted turns and entity references into
// a compact profile snapshot and publishes it to the profile cache. Builds
// run outside the turn path; a build failure is logged and skipped, never
// surfaced to a running turn.
package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/metrics"
)

// DefaultInterval is the rebuild cadence when none is configured.
const DefaultInterval = 5 * time.Minute

// maxRecentTopics bounds the topic list carried in a profile.
const maxRecentTopics = 5

// maxFragmentLen bounds the prompt fragment at the source; the context
// manager applies its own budget cap on top.
const maxFragmentLen = 600

// Config wires the builder's collaborators.
type Config struct {
	Store    core.Storage
	Cache    core.ProfileCache
	Bus      *events.EventBus
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Interval time.Duration
}

// Builder periodically rebuilds user profiles from the backing store.
type Builder struct {
	store    core.Storage
	cache    core.ProfileCache
	bus      *events.EventBus
	logger   *logging.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a builder.
func New(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Builder{
		store:    cfg.Store,
		cache:    cfg.Cache,
		bus:      cfg.Bus,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic rebuild loop. It returns immediately; the
// first build happens after one interval.
func (b *Builder) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-ticker.C:
				b.RunAll(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight build to finish.
func (b *Builder) Stop() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

// RunAll rebuilds profiles for every user with persisted sessions. Per-user
// failures are logged and skipped.
func (b *Builder) RunAll(ctx context.Context) {
	rows, err := b.store.Select(ctx, core.CollectionSessions, nil)
	if err != nil {
		b.logger.Warn("profile sweep aborted", "error", err)
		b.countBuild("error")
		return
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		userID, _ := row["user_id"].(string)
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true

		if err := b.RunNow(ctx, userID); err != nil {
			b.logger.Warn("profile build failed", "user_id", userID, "error", err)
		}
	}
}

// RunNow rebuilds and publishes one user's profile immediately.
func (b *Builder) RunNow(ctx context.Context, userID string) error {
	prof, err := b.build(ctx, userID)
	if err != nil {
		b.countBuild("error")
		return err
	}
	if prof == nil {
		b.countBuild("skipped")
		return nil
	}

	snap := core.ProfileSnapshot{Profile: *prof, BuiltAt: time.Now()}
	if err := b.cache.Put(ctx, snap); err != nil {
		b.countBuild("error")
		return err
	}

	// Durable mirror of the cache entry; the cache stays authoritative for
	// the turn path, so a failed mirror only logs.
	if _, err := b.store.Upsert(ctx, core.CollectionProfiles, []core.Row{{
		"id":              userID,
		"user_id":         userID,
		"summary":         prof.Summary,
		"prompt_fragment": prof.PromptFragment,
		"turn_count":      prof.TurnCount,
		"built_at":        snap.BuiltAt.Format(time.RFC3339Nano),
	}}); err != nil {
		b.logger.Warn("profile mirror write failed", "user_id", userID, "error", err)
	}

	b.countBuild("success")
	b.logger.Debug("profile published",
		"user_id", userID,
		"turns", prof.TurnCount,
		"topics", len(prof.RecentTopics),
	)
	if b.bus != nil {
		b.bus.Publish(events.NewProfileUpdatedEvent(userID, snap.BuiltAt, prof.TurnCount))
	}
	return nil
}

// build aggregates persisted turns and entity references into a profile.
// It returns (nil, nil) when the user has no history yet.
func (b *Builder) build(ctx context.Context, userID string) (*core.UserProfile, error) {
	turnRows, err := b.store.Select(ctx, core.CollectionTurns, core.Filter{"user_id": userID})
	if err != nil {
		return nil, err
	}
	if len(turnRows) == 0 {
		return nil, nil
	}

	entityRows, err := b.store.Select(ctx, core.CollectionEntities, core.Filter{"user_id": userID})
	if err != nil {
		return nil, err
	}

	prof := &core.UserProfile{
		UserID:       userID,
		TurnCount:    len(turnRows),
		RecentTopics: recentTopics(turnRows),
	}
	if len(entityRows) > 0 {
		prof.EntityKinds = make(map[string]int)
		for _, row := range entityRows {
			if kind, _ := row["kind"].(string); kind != "" {
				prof.EntityKinds[kind]++
			}
		}
	}
	prof.Summary = summarize(prof)
	prof.PromptFragment = fragment(prof)
	return prof, nil
}

// recentTopics extracts short leads from the newest user turns.
func recentTopics(rows []core.Row) []string {
	type userTurn struct {
		idx  int
		text string
	}
	var turns []userTurn
	for _, row := range rows {
		if role, _ := row["role"].(string); role != string(core.RoleUser) {
			continue
		}
		text, _ := row["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		turns = append(turns, userTurn{idx: rowInt(row["idx"]), text: text})
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].idx > turns[j].idx })

	var topics []string
	for _, t := range turns {
		topics = append(topics, topicLead(t.text))
		if len(topics) == maxRecentTopics {
			break
		}
	}
	return topics
}

// topicLead shortens a message to its first line, capped at 60 runes.
func topicLead(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if runes := []rune(line); len(runes) > 60 {
		line = string(runes[:60])
	}
	return line
}

func summarize(prof *core.UserProfile) string {
	parts := []string{fmt.Sprintf("%d conversation turns", prof.TurnCount)}
	if len(prof.EntityKinds) > 0 {
		parts = append(parts, fmt.Sprintf("%d entity kinds referenced", len(prof.EntityKinds)))
	}
	return strings.Join(parts, ", ")
}

// fragment renders the profile as the short prelude placed ahead of the
// conversation context.
func fragment(prof *core.UserProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The user has %d prior conversation turns.", prof.TurnCount)

	if len(prof.EntityKinds) > 0 {
		kinds := make([]string, 0, len(prof.EntityKinds))
		for kind := range prof.EntityKinds {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		pairs := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			pairs = append(pairs, fmt.Sprintf("%s (%d)", kind, prof.EntityKinds[kind]))
		}
		fmt.Fprintf(&sb, " Frequently referenced: %s.", strings.Join(pairs, ", "))
	}
	if len(prof.RecentTopics) > 0 {
		fmt.Fprintf(&sb, " Recent topics: %s.", strings.Join(prof.RecentTopics, "; "))
	}

	out := sb.String()
	if runes := []rune(out); len(runes) > maxFragmentLen {
		out = string(runes[:maxFragmentLen])
	}
	return out
}

func (b *Builder) countBuild(outcome string) {
	if b.metrics != nil {
		b.metrics.ProfileBuildsTotal.WithLabelValues(outcome).Inc()
	}
}

func rowInt(v interface{}) int {
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
