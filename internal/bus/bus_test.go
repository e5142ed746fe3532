package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestPublishStampsSource(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	b := New(rdb, "instance-a", zerolog.Nop())
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, Topic)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, KindTable, "t1", map[string]any{"type": "HandStarted"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case raw := <-sub.Channel():
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			t.Fatalf("unmarshal published message: %v", err)
		}
		if msg.Source != "instance-a" {
			t.Errorf("Source = %q, want instance-a", msg.Source)
		}
		if msg.Kind != KindTable || msg.TableID != "t1" {
			t.Errorf("envelope = %+v, want kind=table table_id=t1", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestRunDispatchesForeignAndDropsOwnEcho(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	b := New(rdb, "instance-a", zerolog.Nop())

	received := make(chan Message, 10)
	b.Init(map[Kind]Handler{
		KindChat: func(_ context.Context, msg Message) { received <- msg },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	// The subscription is established asynchronously; keep publishing until the foreign message lands. The own
	// echo is always published first on the same connection, so receiving the foreign message proves the echo was
	// dropped rather than missed.
	foreign, _ := json.Marshal(Message{Kind: KindChat, TableID: "t1", Payload: map[string]any{"n": float64(1)}, Source: "instance-b"})
	deadline := time.After(2 * time.Second)
	for {
		if err := b.Publish(ctx, KindChat, "t1", map[string]any{"n": float64(0)}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if err := rdb.Publish(ctx, Topic, foreign).Err(); err != nil {
			t.Fatalf("publish foreign: %v", err)
		}

		select {
		case msg := <-received:
			if msg.Source != "instance-b" {
				t.Fatalf("handler saw message from %q, own echoes must be dropped", msg.Source)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for foreign message")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRunDropsMessagesWithoutSource(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	b := New(rdb, "instance-a", zerolog.Nop())

	received := make(chan Message, 10)
	b.Init(map[Kind]Handler{
		KindLobby: func(_ context.Context, msg Message) { received <- msg },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	unsourced, _ := json.Marshal(Message{Kind: KindLobby, TableID: "lobby", Payload: map[string]any{}})
	sourced, _ := json.Marshal(Message{Kind: KindLobby, TableID: "lobby", Payload: map[string]any{}, Source: "instance-b"})
	deadline := time.After(2 * time.Second)
	for {
		_ = rdb.Publish(ctx, Topic, unsourced).Err()
		_ = rdb.Publish(ctx, Topic, sourced).Err()

		select {
		case msg := <-received:
			if msg.Source == "" {
				t.Fatal("handler saw a message without a source id")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for sourced message")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	b := New(rdb, "instance-a", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestRunAfterCloseReturnsImmediately(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	b := New(rdb, "instance-a", zerolog.Nop())

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after Close error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Close")
	}
}
