package storage

import (
	"context"
	"testing"
	"time"

	"letterfall/engine/internal/session"
	"letterfall/engine/internal/strategy"
)

func sampleResult(score int) *session.Result {
	return &session.Result{
		Score:         score,
		SessionType:   strategy.Grind,
		SessionNumber: 2,
		ProfileName:   "Casual",
		DurationMs:    200_000,
		Persist:       true,
	}
}

func TestMemoryStoreSaveAndQuery(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "alice", "alice"} {
		if err := store.SaveResult(ctx, user, sampleResult(100+i)); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	//1.- Per-user query returns only that player's results, newest first.
	records, err := store.ResultsByUser(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ResultsByUser: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 results for alice, got %d", len(records))
	}
	if records[0].Result.Score != 103 || records[2].Result.Score != 100 {
		t.Fatalf("results not newest-first: %d, %d", records[0].Result.Score, records[2].Result.Score)
	}

	//2.- A positive limit truncates the tail.
	limited, err := store.ResultsByUser(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ResultsByUser with limit: %v", err)
	}
	if len(limited) != 2 || limited[1].Result.Score != 102 {
		t.Fatalf("unexpected limited results: %+v", limited)
	}

	if count, err := store.SavedCount(ctx); err != nil || count != 4 {
		t.Fatalf("SavedCount = %d, %v", count, err)
	}
}

func TestMemoryStoreRejectsNilResult(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveResult(context.Background(), "alice", nil); err == nil {
		t.Fatal("expected error for nil result")
	}
}

func TestMemoryStoreClosedErrors(t *testing.T) {
	store := NewMemoryStore()
	store.Close()
	ctx := context.Background()
	if err := store.SaveResult(ctx, "alice", sampleResult(1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed from save, got %v", err)
	}
	if _, err := store.ResultsByUser(ctx, "alice", 0); err != ErrClosed {
		t.Fatalf("expected ErrClosed from query, got %v", err)
	}
	if _, err := store.SavedCount(ctx); err != ErrClosed {
		t.Fatalf("expected ErrClosed from count, got %v", err)
	}
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.SaveResult(ctx, "alice", sampleResult(1)); err == nil {
		t.Fatal("expected context error from save")
	}
}
