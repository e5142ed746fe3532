package registry

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestInstances(t *testing.T, instanceID string) (*miniredis.Miniredis, *redis.Client, *Instances) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	d := NewDirectory(rdb, zerolog.Nop())
	return mr, rdb, NewInstances(rdb, d, instanceID, zerolog.Nop())
}

func TestHeartbeatWritesTimestamp(t *testing.T) {
	t.Parallel()
	mr, _, inst := newTestInstances(t, "i1")

	if err := inst.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	raw := mr.HGet(instancesKey, "i1")
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("heartbeat value %q is not a timestamp: %v", raw, err)
	}
	if age := time.Since(time.UnixMilli(ts)); age > time.Minute {
		t.Errorf("heartbeat timestamp is %v old, want recent", age)
	}
}

func TestSweepClearsStaleInstance(t *testing.T) {
	t.Parallel()
	mr, rdb, inst := newTestInstances(t, "i1")
	ctx := context.Background()
	d := NewDirectory(rdb, zerolog.Nop())

	if err := d.Save(ctx, testConn("c-dead", "u1", "dead")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	stale := strconv.FormatInt(time.Now().Add(-5*time.Minute).UnixMilli(), 10)
	mr.HSet(instancesKey, "dead", stale)

	if err := inst.Sweep(ctx, time.Minute); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if mr.Exists("gateway:conn:c-dead") {
		t.Error("stale instance's conn row survived the sweep")
	}
	if mr.HGet(instancesKey, "dead") != "" {
		t.Error("stale heartbeat survived the sweep")
	}
}

func TestSweepSkipsFreshAndSelf(t *testing.T) {
	t.Parallel()
	mr, rdb, inst := newTestInstances(t, "i1")
	ctx := context.Background()
	d := NewDirectory(rdb, zerolog.Nop())

	if err := d.Save(ctx, testConn("c1", "u1", "i1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := d.Save(ctx, testConn("c2", "u2", "fresh")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Own heartbeat is stale, but an instance never sweeps itself; the fresh peer is within the cutoff.
	stale := strconv.FormatInt(time.Now().Add(-5*time.Minute).UnixMilli(), 10)
	mr.HSet(instancesKey, "i1", stale)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mr.HSet(instancesKey, "fresh", now)

	if err := inst.Sweep(ctx, time.Minute); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if !mr.Exists("gateway:conn:c1") {
		t.Error("instance swept its own connections")
	}
	if !mr.Exists("gateway:conn:c2") {
		t.Error("fresh instance's connections were swept")
	}
}

func TestSweepClearsUnparseableHeartbeat(t *testing.T) {
	t.Parallel()
	mr, rdb, inst := newTestInstances(t, "i1")
	ctx := context.Background()
	d := NewDirectory(rdb, zerolog.Nop())

	if err := d.Save(ctx, testConn("c1", "u1", "junk")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	mr.HSet(instancesKey, "junk", "not-a-number")

	if err := inst.Sweep(ctx, time.Minute); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if mr.Exists("gateway:conn:c1") {
		t.Error("instance with unparseable heartbeat was not swept")
	}
}

func TestShutdownClearsOwnState(t *testing.T) {
	t.Parallel()
	mr, rdb, inst := newTestInstances(t, "i1")
	ctx := context.Background()
	d := NewDirectory(rdb, zerolog.Nop())

	if err := d.Save(ctx, testConn("c1", "u1", "i1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := inst.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	inst.Shutdown(ctx)

	if mr.Exists("gateway:conn:c1") {
		t.Error("own conn row survived Shutdown")
	}
	if mr.HGet(instancesKey, "i1") != "" {
		t.Error("own heartbeat survived Shutdown")
	}
}
