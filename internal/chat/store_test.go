package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, limit int) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewStore(rdb, limit)
}

func TestSaveAndHistoryOrder(t *testing.T) {
	t.Parallel()
	_, store := newTestStore(t, 50)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := Message{
			ID:        fmt.Sprintf("m%d", i),
			UserID:    "u1",
			Username:  "alice",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if err := store.Save(ctx, "t1", msg); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := store.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("History() returned %d messages, want 3", len(got))
	}
	for i, msg := range got {
		if want := fmt.Sprintf("m%d", i); msg.ID != want {
			t.Errorf("History()[%d].ID = %q, want %q (oldest first)", i, msg.ID, want)
		}
	}
}

func TestSaveTrimsToLimit(t *testing.T) {
	t.Parallel()
	_, store := newTestStore(t, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		msg := Message{ID: fmt.Sprintf("m%d", i), UserID: "u1", Text: "x"}
		if err := store.Save(ctx, "t1", msg); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := store.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("History() returned %d messages, want 5", len(got))
	}
	if got[0].ID != "m3" || got[4].ID != "m7" {
		t.Errorf("History() window = [%s..%s], want [m3..m7]", got[0].ID, got[4].ID)
	}
}

func TestHistoryEmptyTable(t *testing.T) {
	t.Parallel()
	_, store := newTestStore(t, 50)

	got, err := store.History(context.Background(), "empty")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("History() = %v, want empty", got)
	}
}

func TestHistorySkipsCorruptEntries(t *testing.T) {
	t.Parallel()
	mr, store := newTestStore(t, 50)
	ctx := context.Background()

	if err := store.Save(ctx, "t1", Message{ID: "m1", Text: "ok"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := mr.RPush("gateway:chat:history:t1", "{not json"); err != nil {
		t.Fatalf("RPush() error = %v", err)
	}

	got, err := store.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("History() = %v, want only the valid entry", got)
	}
}

func TestHistoryExpires(t *testing.T) {
	t.Parallel()
	mr, store := newTestStore(t, 50)
	ctx := context.Background()

	if err := store.Save(ctx, "t1", Message{ID: "m1", Text: "x"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	mr.FastForward(historyTTL + time.Minute)

	got, err := store.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("History() = %v after TTL, want empty", got)
	}
}
