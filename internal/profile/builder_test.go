package profile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/testutil"
)

type memCache struct {
	mu    sync.Mutex
	snaps map[string]core.ProfileSnapshot
	puts  int
	err   error
}

func newMemCache() *memCache {
	return &memCache{snaps: make(map[string]core.ProfileSnapshot)}
}

func (c *memCache) Get(_ context.Context, userID string) (*core.ProfileSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[userID]
	if !ok {
		return nil, core.ErrNotFound("profile", userID)
	}
	return &snap, nil
}

func (c *memCache) Put(_ context.Context, snap core.ProfileSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.puts++
	c.snaps[snap.Profile.UserID] = snap
	return nil
}

func (c *memCache) Close() error { return nil }

func seedHistory(store *testutil.MemStore, userID string) {
	store.Seed(core.CollectionSessions, core.Row{"id": "sess-1", "user_id": userID})
	store.Seed(core.CollectionTurns,
		core.Row{"id": "sess-1-t1", "user_id": userID, "session_id": "sess-1", "idx": 1, "role": "user", "text": "plan my trip to Lisbon"},
		core.Row{"id": "sess-1-t2", "user_id": userID, "session_id": "sess-1", "idx": 2, "role": "assistant", "text": "Sure, here is an itinerary."},
		core.Row{"id": "sess-1-t3", "user_id": userID, "session_id": "sess-1", "idx": 3, "role": "user", "text": "add museum visits"},
	)
	store.Seed(core.CollectionEntities,
		core.Row{"id": "sess-1-note-a", "user_id": userID, "session_id": "sess-1", "token": "note-a", "kind": "note", "backing_id": "n1"},
		core.Row{"id": "sess-1-note-b", "user_id": userID, "session_id": "sess-1", "token": "note-b", "kind": "note", "backing_id": "n2"},
		core.Row{"id": "sess-1-doc-a", "user_id": userID, "session_id": "sess-1", "token": "doc-a", "kind": "doc", "backing_id": "d1"},
	)
}

func TestBuilder_RunNowPublishesProfile(t *testing.T) {
	store := testutil.NewMemStore()
	seedHistory(store, "user-1")
	cache := newMemCache()

	b := New(Config{Store: store, Cache: cache})
	if err := b.RunNow(context.Background(), "user-1"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	snap, err := cache.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("cache should hold a snapshot: %v", err)
	}
	prof := snap.Profile
	if prof.TurnCount != 3 {
		t.Errorf("turn count = %d, want 3", prof.TurnCount)
	}
	if prof.EntityKinds["note"] != 2 || prof.EntityKinds["doc"] != 1 {
		t.Errorf("entity kinds = %v, want note:2 doc:1", prof.EntityKinds)
	}
	// Newest user turn leads the topic list.
	if len(prof.RecentTopics) != 2 || prof.RecentTopics[0] != "add museum visits" {
		t.Errorf("recent topics = %v", prof.RecentTopics)
	}
	if !strings.Contains(prof.PromptFragment, "3 prior conversation turns") {
		t.Errorf("fragment = %q", prof.PromptFragment)
	}
	if !strings.Contains(prof.PromptFragment, "note (2)") {
		t.Errorf("fragment should tally entity kinds, got %q", prof.PromptFragment)
	}
	if snap.BuiltAt.IsZero() {
		t.Error("snapshot must carry a build timestamp")
	}
}

func TestBuilder_RunNowSkipsUsersWithoutHistory(t *testing.T) {
	cache := newMemCache()
	b := New(Config{Store: testutil.NewMemStore(), Cache: cache})

	if err := b.RunNow(context.Background(), "ghost"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if cache.puts != 0 {
		t.Errorf("puts = %d, want 0 for empty history", cache.puts)
	}
}

func TestBuilder_RunNowSurfacesStoreErrors(t *testing.T) {
	store := testutil.NewMemStore()
	seedHistory(store, "user-1")
	store.FailSelects(core.ErrStoreUnavailable("store offline"))

	b := New(Config{Store: store, Cache: newMemCache()})
	if err := b.RunNow(context.Background(), "user-1"); err == nil {
		t.Fatal("expected store error")
	}
}

func TestBuilder_RunAllCoversEveryUser(t *testing.T) {
	store := testutil.NewMemStore()
	seedHistory(store, "user-1")
	store.Seed(core.CollectionSessions, core.Row{"id": "sess-2", "user_id": "user-2"})
	store.Seed(core.CollectionTurns,
		core.Row{"id": "sess-2-t1", "user_id": "user-2", "session_id": "sess-2", "idx": 1, "role": "user", "text": "hello"},
	)
	cache := newMemCache()

	b := New(Config{Store: store, Cache: cache})
	b.RunAll(context.Background())

	if cache.puts != 2 {
		t.Errorf("puts = %d, want one per user", cache.puts)
	}
}

func TestBuilder_RunAllSkipsFailingUser(t *testing.T) {
	store := testutil.NewMemStore()
	seedHistory(store, "user-1")
	cache := newMemCache()
	cache.err = core.ErrInternal("cache full")

	b := New(Config{Store: store, Cache: cache})
	// Must not panic or abort; the failure is logged and counted.
	b.RunAll(context.Background())

	if cache.puts != 0 {
		t.Errorf("puts = %d, want 0", cache.puts)
	}
}

func TestBuilder_StartStop(t *testing.T) {
	store := testutil.NewMemStore()
	seedHistory(store, "user-1")
	cache := newMemCache()
	bus := events.New(10)
	defer bus.Close()

	b := New(Config{Store: store, Cache: cache, Bus: bus, Interval: 10 * time.Millisecond})
	ch := bus.Subscribe(events.TypeProfileUpdated)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	select {
	case ev := <-ch:
		if ev.EventType() != events.TypeProfileUpdated {
			t.Errorf("event type = %s", ev.EventType())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no profile_updated event within deadline")
	}
}

func TestTopicLead(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short question", "short question"},
		{"first line\nsecond line", "first line"},
		{"  padded  ", "padded"},
		{strings.Repeat("x", 80), strings.Repeat("x", 60)},
	}
	for _, tt := range tests {
		if got := topicLead(tt.in); got != tt.want {
			t.Errorf("topicLead(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
