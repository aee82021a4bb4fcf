package profilecache

import (
	"context"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/core"
)

func snapshotFor(userID string) core.ProfileSnapshot {
	return core.ProfileSnapshot{
		Profile: core.UserProfile{
			UserID:         userID,
			PromptFragment: "prefers short answers",
			TurnCount:      7,
		},
		BuiltAt: time.Now().Truncate(time.Millisecond),
	}
}

func testCache(t *testing.T, cache core.ProfileCache) {
	t.Helper()
	ctx := context.Background()

	if _, err := cache.Get(ctx, "nobody"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("missing profile: category = %v, want not_found", core.GetCategory(err))
	}

	want := snapshotFor("user-1")
	if err := cache.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := cache.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Profile.PromptFragment != want.Profile.PromptFragment {
		t.Errorf("fragment = %q, want %q", got.Profile.PromptFragment, want.Profile.PromptFragment)
	}
	if got.Profile.TurnCount != want.Profile.TurnCount {
		t.Errorf("turn count = %d, want %d", got.Profile.TurnCount, want.Profile.TurnCount)
	}

	// A second Put replaces the first.
	next := snapshotFor("user-1")
	next.Profile.TurnCount = 9
	if err := cache.Put(ctx, next); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	got, err = cache.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get after replace: %v", err)
	}
	if got.Profile.TurnCount != 9 {
		t.Errorf("turn count after replace = %d, want 9", got.Profile.TurnCount)
	}
}

func TestMemoryCache(t *testing.T) {
	testCache(t, NewMemoryCache())
}

func TestBadgerCache(t *testing.T) {
	cache, err := NewBadgerCache(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewBadgerCache: %v", err)
	}
	defer cache.Close()

	testCache(t, cache)
}

func TestBadgerCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cache, err := NewBadgerCache(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := cache.Put(ctx, snapshotFor("user-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := NewBadgerCache(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	got, err := again.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Profile.UserID != "user-1" {
		t.Errorf("user id = %q", got.Profile.UserID)
	}
}
