package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cmdagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CommandRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	recs := []domain.CommandRecord{
		{BatchID: "b1", Command: "echo", Args: []string{"hi"}, Outcome: "output", Report: "hi\n"},
		{BatchID: "b1", Command: "echo", Args: []string{"x", ">", "o.txt"}, Redirect: "o.txt", Outcome: "redirected", Report: "REDIRECTED_TO_FILE: o.txt"},
		{BatchID: "b2", Command: "missing", Outcome: "not_found", Report: "Command not found: missing"},
	}
	for _, r := range recs {
		if err := store.RecordCommand(ctx, r); err != nil {
			t.Fatalf("RecordCommand: %v", err)
		}
	}

	got, err := store.RecentCommands(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].Command != "echo" || got[2].Command != "missing" {
		t.Fatalf("expected chronological order, got %+v", got)
	}
	if !reflect.DeepEqual(got[1].Args, []string{"x", ">", "o.txt"}) {
		t.Fatalf("args: got %v", got[1].Args)
	}
	if got[1].Redirect != "o.txt" || got[1].Outcome != "redirected" {
		t.Fatalf("second record: %+v", got[1])
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatal("created_at should be set")
	}
}

func TestSQLiteStore_RecentCommandsLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if err := store.RecordCommand(ctx, domain.CommandRecord{BatchID: "b", Command: name, Outcome: "output"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.RecentCommands(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Command != "b" || got[1].Command != "c" {
		t.Fatalf("expected last two in order, got %+v", got)
	}
}

func TestSQLiteStore_ExchangeRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.RecordExchange(ctx, domain.ExchangeRecord{
		Provider:         "openai",
		Prompt:           "list files",
		ToolCall:         `{"name":"execute_linux_commands"}`,
		LatencyMs:        42,
		PromptTokens:     120,
		CompletionTokens: 30,
	}); err != nil {
		t.Fatalf("RecordExchange: %v", err)
	}
	if err := store.RecordExchange(ctx, domain.ExchangeRecord{ID: "fixed", Provider: "openai", Prompt: "hi", Response: "hello"}); err != nil {
		t.Fatalf("RecordExchange: %v", err)
	}

	got, err := store.RecentExchanges(ctx, 10)
	if err != nil {
		t.Fatalf("RecentExchanges: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(got))
	}
	if got[0].ID == "" || got[0].LatencyMs != 42 || got[0].ToolCall == "" || got[0].PromptTokens != 120 || got[0].CompletionTokens != 30 {
		t.Fatalf("first exchange: %+v", got[0])
	}
	if got[1].ID != "fixed" || got[1].Response != "hello" {
		t.Fatalf("second exchange: %+v", got[1])
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	_ = store.RecordCommand(ctx, domain.CommandRecord{BatchID: "old", Command: "echo", Outcome: "output", CreatedAt: old})
	_ = store.RecordCommand(ctx, domain.CommandRecord{BatchID: "new", Command: "echo", Outcome: "output"})
	_ = store.RecordExchange(ctx, domain.ExchangeRecord{Prompt: "old", CreatedAt: old})

	n, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows pruned, got %d", n)
	}
	got, _ := store.RecentCommands(ctx, 10)
	if len(got) != 1 || got[0].BatchID != "new" {
		t.Fatalf("remaining: %+v", got)
	}
}

func TestSQLiteStore_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	_ = store.RecordCommand(context.Background(), domain.CommandRecord{BatchID: "b", Command: "echo", Outcome: "output"})
	store.Close()

	store, err = NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, _ := store.RecentCommands(context.Background(), 10)
	if len(got) != 1 {
		t.Fatalf("expected history to survive reopen, got %d", len(got))
	}
}
