package memory

import (
	"context"
	"testing"
	"time"

	"github.com/starkbot/starkbot/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteConfig{})
	if err != nil {
		t.Fatalf("open sqlite memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store)
}

func TestRememberDefaultsImportanceFromKind(t *testing.T) {
	m := newTestManager(t)
	mem, err := m.Remember(context.Background(), "ident-1", "likes dark roast coffee", models.KindPreference, 0)
	if err != nil {
		t.Fatal(err)
	}
	if mem.Importance != models.KindPreference.DefaultImportance() {
		t.Fatalf("expected default importance %d, got %d", models.KindPreference.DefaultImportance(), mem.Importance)
	}
}

func TestSearchRanksRememberImportantAboveWeakerLexicalMatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Remember(ctx, "ident-1", "the office wifi password is hunter2", models.KindRememberImportant, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Remember(ctx, "ident-1", "password reset link sent yesterday about something else entirely", models.KindDailyLog, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := m.Search(ctx, &models.SearchRequest{IdentityID: "ident-1", Query: "password", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Memory.Kind != models.KindRememberImportant {
		t.Fatalf("expected remember_important to rank first, got %+v", resp.Results[0])
	}
}

func TestSearchExcludesExpiredDailyLog(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	stale := &models.Memory{
		ID:         "stale-1",
		IdentityID: "ident-1",
		Content:    "stand-up notes from yesterday",
		Kind:       models.KindDailyLog,
		Importance: models.KindDailyLog.DefaultImportance(),
		CreatedAt:  time.Now().Add(-48 * time.Hour),
	}
	if err := m.store.Create(ctx, stale); err != nil {
		t.Fatal(err)
	}

	resp, err := m.Search(ctx, &models.SearchRequest{IdentityID: "ident-1", Query: "stand-up"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected expired daily_log to be excluded, got %+v", resp.Results)
	}
}

func TestMultiSearchDeduplicatesByMemoryID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Remember(ctx, "ident-1", "prefers terse code review comments", models.KindPreference, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := m.MultiSearch(ctx, &models.MultiSearchRequest{
		IdentityID: "ident-1",
		Queries:    []string{"terse", "code review"},
		Limit:      10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected deduplicated single result, got %d", len(resp.Results))
	}
}
