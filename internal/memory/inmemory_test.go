package memory

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecall(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	turns := []TurnRecord{
		{SessionID: "s1", LearnerID: "l1", Role: "user", Content: "what is recursion?"},
		{SessionID: "s1", LearnerID: "l1", Role: "assistant", Content: "a function calling itself"},
		{SessionID: "s1", LearnerID: "l1", Role: "user", Content: "show me an example"},
	}
	for _, turn := range turns {
		if err := s.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	got, err := s.RecentContext(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentContext length = %d, want 2", len(got))
	}
	if got[0].Content != "a function calling itself" || got[1].Content != "show me an example" {
		t.Fatalf("RecentContext returned wrong window: %q, %q", got[0].Content, got[1].Content)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatal("SaveTurn did not assign ID and timestamp")
	}
}

func TestInMemoryStoreSessionsIsolated(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "a", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}

	got, err := s.RecentContext(ctx, "b", 10)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if got != nil {
		t.Fatalf("RecentContext for unknown session = %v, want nil", got)
	}
}

func TestInMemoryStoreZeroLimitReturnsAll(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s", Role: "user", Content: "x"}); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}
	got, err := s.RecentContext(ctx, "s", 0)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("RecentContext length = %d, want 5", len(got))
	}
}
