package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/retirementsolutions/raymondo/internal/llm"
)

func TestAppendAndHistory(t *testing.T) {
	store := NewInMemoryTranscriptStore()
	ctx := context.Background()

	err := store.Append(ctx, "s1", time.Minute,
		llm.Message{Role: llm.RoleUser, Content: "q1"},
		llm.Message{Role: llm.RoleAssistant, Content: "a1"},
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "s1", time.Minute, llm.Message{Role: llm.RoleUser, Content: "q2"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	history, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].Content != "q1" || history[2].Content != "q2" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	store := NewInMemoryTranscriptStore()
	history, err := store.History(context.Background(), "missing")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history != nil {
		t.Fatalf("expected empty history, got %+v", history)
	}
}

func TestExpiredTranscriptIsDropped(t *testing.T) {
	store := NewInMemoryTranscriptStore()
	ctx := context.Background()

	if err := store.Append(ctx, "s1", -time.Second, llm.Message{Role: llm.RoleUser, Content: "old"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	history, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history != nil {
		t.Fatalf("expected expired transcript to be gone, got %+v", history)
	}

	// A new append after expiry starts a fresh transcript
	if err := store.Append(ctx, "s1", time.Minute, llm.Message{Role: llm.RoleUser, Content: "new"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	history, _ = store.History(ctx, "s1")
	if len(history) != 1 || history[0].Content != "new" {
		t.Fatalf("expected fresh transcript, got %+v", history)
	}
}

// Dead sessions must not pile up in the map: redis evicts by key expiry,
// this store prunes on Append.
func TestAppendPrunesExpiredSessions(t *testing.T) {
	s := NewInMemoryTranscriptStore().(*Store)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, id, -time.Second, llm.Message{Role: llm.RoleUser, Content: "stale"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, "live", time.Minute, llm.Message{Role: llm.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	s.mu.RLock()
	n := len(s.transcripts)
	s.mu.RUnlock()
	if n != 1 {
		t.Fatalf("expected only the live session to remain, got %d entries", n)
	}
	history, err := s.History(ctx, "live")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("unexpected live history: %+v", history)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	store := NewInMemoryTranscriptStore()
	ctx := context.Background()
	_ = store.Append(ctx, "s1", time.Minute, llm.Message{Role: llm.RoleUser, Content: "original"})

	history, _ := store.History(ctx, "s1")
	history[0].Content = "mutated"

	again, _ := store.History(ctx, "s1")
	if again[0].Content != "original" {
		t.Fatal("History must return a copy")
	}
}
