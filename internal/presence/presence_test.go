package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewStore(rdb)
}

func TestSetOnlineAndGet(t *testing.T) {
	t.Parallel()
	_, store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, "u1"); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOnline {
		t.Errorf("Get() = %q, want %q", got, StatusOnline)
	}
}

func TestGetReturnsOfflineWhenMissing(t *testing.T) {
	t.Parallel()
	_, store := newTestStore(t)

	got, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOffline {
		t.Errorf("Get() = %q, want %q", got, StatusOffline)
	}
}

func TestSetOfflineRemovesKey(t *testing.T) {
	t.Parallel()
	mr, store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, "u1"); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	if err := store.SetOffline(ctx, "u1"); err != nil {
		t.Fatalf("SetOffline() error = %v", err)
	}
	if mr.Exists("presence:u1") {
		t.Error("presence key still present after SetOffline")
	}
}

func TestPresenceExpires(t *testing.T) {
	t.Parallel()
	mr, store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, "u1"); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	mr.FastForward(presenceTTL + time.Second)

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOffline {
		t.Errorf("Get() = %q after TTL, want %q", got, StatusOffline)
	}
}

func TestRefreshExtendsTTL(t *testing.T) {
	t.Parallel()
	mr, store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, "u1"); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	mr.FastForward(presenceTTL - 10*time.Second)
	if err := store.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	mr.FastForward(presenceTTL - 10*time.Second)

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOnline {
		t.Errorf("Get() = %q after refresh, want %q", got, StatusOnline)
	}
}
