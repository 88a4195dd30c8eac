package audit

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(context.Background(), "sqlite3", dsn, true)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLogAndListActions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{ChatID: "a", Action: ActionChatCreated, MetaJSON: Meta(map[string]any{"character_id": 1})},
		{ChatID: "b", Action: ActionChatCreated},
		{ChatID: "a", Action: ActionMessagePosted, MetaJSON: "not json"},
		{ChatID: "a", Action: ActionChatDeleted},
	}
	for _, e := range entries {
		if err := s.LogAction(ctx, e); err != nil {
			t.Fatalf("log action %s: %v", e.Action, err)
		}
	}

	got, err := s.ListActions(ctx, "a", 0)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries for chat a, got %d", len(got))
	}
	want := []string{ActionChatCreated, ActionMessagePosted, ActionChatDeleted}
	for i, e := range got {
		if e.Action != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], e.Action)
		}
	}
	if got[0].MetaJSON != `{"character_id":1}` {
		t.Fatalf("unexpected meta %q", got[0].MetaJSON)
	}
	if got[1].MetaJSON != "{}" {
		t.Fatalf("invalid meta should be replaced, got %q", got[1].MetaJSON)
	}

	limited, err := s.ListActions(ctx, "a", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "dsn", false); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), "sqlite", "", false); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
