package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestVisitorSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.UpsertVisitorSession(ctx, "s1", "/", start); err != nil {
		t.Fatalf("UpsertVisitorSession: %v", err)
	}
	later := start.Add(90 * time.Second)
	if err := store.TouchVisitorSession(ctx, "s1", later); err != nil {
		t.Fatalf("TouchVisitorSession: %v", err)
	}
	sess, err := store.GetVisitorSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetVisitorSession: %v", err)
	}
	if sess == nil || sess.Page != "/" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.LastSeen.Equal(later) || !sess.StartedAt.Equal(start) {
		t.Fatalf("unexpected timestamps: %+v", sess)
	}

	if err := store.UpsertVisitorSession(ctx, "s1", "/browse", later); err != nil {
		t.Fatalf("UpsertVisitorSession again: %v", err)
	}
	sess, _ = store.GetVisitorSession(ctx, "s1")
	if sess.Page != "/browse" || !sess.StartedAt.Equal(start) {
		t.Fatalf("upsert should keep started_at and update page: %+v", sess)
	}
}

func TestTouchUnknownSession(t *testing.T) {
	store := newTestStore(t)
	err := store.TouchVisitorSession(context.Background(), "ghost", time.Now())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	sess, err := store.GetVisitorSession(context.Background(), "ghost")
	if err != nil || sess != nil {
		t.Fatalf("expected nil session, got %+v err=%v", sess, err)
	}
}

func TestCountAndPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.UpsertVisitorSession(ctx, "old", "/", now.Add(-10*time.Minute))
	_ = store.UpsertVisitorSession(ctx, "edge", "/", now.Add(-3*time.Minute))
	_ = store.UpsertVisitorSession(ctx, "fresh", "/", now.Add(-10*time.Second))

	count, err := store.CountActiveSessions(ctx, now.Add(-3*time.Minute))
	if err != nil {
		t.Fatalf("CountActiveSessions: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active sessions, got %d", count)
	}

	pruned, err := store.PruneVisitorSessions(ctx, now.Add(-3*time.Minute))
	if err != nil {
		t.Fatalf("PruneVisitorSessions: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if sess, _ := store.GetVisitorSession(ctx, "old"); sess != nil {
		t.Fatalf("old session should be gone")
	}
}

func TestSessionValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetSessionValue(ctx, "tab-1", "flag"); err != nil || ok {
		t.Fatalf("expected absent value, ok=%v err=%v", ok, err)
	}
	if err := store.SetSessionValue(ctx, "tab-1", "flag", "true"); err != nil {
		t.Fatalf("SetSessionValue: %v", err)
	}
	if err := store.SetSessionValue(ctx, "tab-1", "flag", "yes"); err != nil {
		t.Fatalf("SetSessionValue overwrite: %v", err)
	}
	value, ok, err := store.GetSessionValue(ctx, "tab-1", "flag")
	if err != nil || !ok || value != "yes" {
		t.Fatalf("unexpected value %q ok=%v err=%v", value, ok, err)
	}
	if _, ok, _ := store.GetSessionValue(ctx, "tab-2", "flag"); ok {
		t.Fatalf("scopes must not share values")
	}

	if err := store.ClearSessionScope(ctx, "tab-1"); err != nil {
		t.Fatalf("ClearSessionScope: %v", err)
	}
	if _, ok, _ := store.GetSessionValue(ctx, "tab-1", "flag"); ok {
		t.Fatalf("value should be cleared")
	}
}

func TestBuildDSN(t *testing.T) {
	cases := []struct{ in, prefix string }{
		{"noto.db", "file:noto.db?"},
		{"sqlite://file:x?a=b", "file:x?a=b&"},
		{":memory:", ":memory:?"},
		{"file:/tmp/n.db", "file:/tmp/n.db?"},
	}
	for _, tc := range cases {
		got := buildDSN(tc.in)
		if !strings.HasPrefix(got, tc.prefix) {
			t.Errorf("buildDSN(%q) = %q, want prefix %q", tc.in, got, tc.prefix)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
