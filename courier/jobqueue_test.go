package courier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	core "github.com/supplyetl/core"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestJobLock_Acquire_SecondCallerBlocked(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	lockA := NewJobLock(client)
	lockB := NewJobLock(client)
	ctx := context.Background()
	key := LockKey(1, "https://example.com/prices.xlsx")

	acquired, err := lockA.Acquire(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected lockA to acquire")
	}

	acquired, err = lockB.Acquire(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Error("expected lockB to be blocked while lockA holds the key")
	}
}

func TestJobLock_Release_OnlyByOwner(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	lockA := NewJobLock(client)
	lockB := NewJobLock(client)
	ctx := context.Background()
	key := LockKey(1, "https://example.com/prices.xlsx")

	if _, err := lockA.Acquire(ctx, key, 10*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := lockB.Release(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired, err := lockB.Acquire(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Error("lockB's release should not have freed lockA's key")
	}

	if err := lockA.Release(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acquired, err = lockB.Acquire(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Error("expected lockB to acquire after lockA released")
	}
}

func TestPendingDepth_TryAdd_BackpressureAtCeiling(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	p := NewPendingDepth(client)
	ctx := context.Background()

	if err := p.TryAdd(ctx, 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.TryAdd(ctx, 2, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := p.TryAdd(ctx, 3, 2)
	if err == nil {
		t.Fatal("expected back-pressure error at the ceiling")
	}
	if core.Kind(err) != core.KindStalled {
		t.Errorf("expected KindStalled, got %v", core.Kind(err))
	}
}

func TestPendingDepth_Remove_FreesCapacity(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	p := NewPendingDepth(client)
	ctx := context.Background()

	if err := p.TryAdd(ctx, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.TryAdd(ctx, 2, 1); err == nil {
		t.Fatal("expected back-pressure before removal")
	}

	if err := p.Remove(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.TryAdd(ctx, 2, 1); err != nil {
		t.Errorf("expected room after removal, got error: %v", err)
	}
}
