package sqlitecache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func open(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestAddThenGet(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	if err := b.Add(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}

	hit, payload, err := b.TryGet(ctx, "k")
	if err != nil {
		t.Fatalf("try_get: %v", err)
	}
	if !hit || string(payload) != "v1" {
		t.Fatalf("expected hit with v1, got hit=%v payload=%q", hit, payload)
	}
}

func TestExpiry(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	if err := b.Add(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	hit, _, err := b.TryGet(ctx, "k")
	if err != nil {
		t.Fatalf("try_get: %v", err)
	}
	if hit {
		t.Fatal("expected miss for a zero-TTL entry")
	}
}

func TestLastWriterWins(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	b.Add(ctx, "k", []byte("v1"), time.Minute)
	b.Add(ctx, "k", []byte("v2"), time.Minute)

	hit, payload, err := b.TryGet(ctx, "k")
	if err != nil || !hit {
		t.Fatalf("expected hit, err=%v hit=%v", err, hit)
	}
	if string(payload) != "v2" {
		t.Fatalf("expected v2, got %q", payload)
	}
}

func TestClear(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	b.Add(ctx, "k", []byte("v1"), time.Minute)
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	hit, _, err := b.TryGet(ctx, "k")
	if err != nil {
		t.Fatalf("try_get: %v", err)
	}
	if hit {
		t.Fatal("expected miss after clear")
	}
}

func TestCancelledAddSkipsStore(t *testing.T) {
	b := open(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Add(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}

	hit, _, err := b.TryGet(context.Background(), "k")
	if err != nil {
		t.Fatalf("try_get: %v", err)
	}
	if hit {
		t.Fatal("expected a cancelled-during-write Add to skip the store")
	}
}

func TestPurgeRemovesExpired(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	b.Add(ctx, "k1", []byte("v1"), -time.Second)
	b.Add(ctx, "k2", []byte("v2"), time.Minute)

	n, err := b.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}

	hit, _, _ := b.TryGet(ctx, "k2")
	if !hit {
		t.Fatal("k2 should survive purge")
	}
}
