package pubcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := New("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return cache, s
}

func TestPutAndGet(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	entry := Entry{
		DocumentID:        "row_1",
		PasswordProtected: true,
		PublishedAt:       time.Now().UTC().Truncate(time.Second),
	}

	if err := cache.Put(ctx, "ensaio-ana-1a2b3c4d", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := cache.Get(ctx, "ensaio-ana-1a2b3c4d")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.DocumentID != entry.DocumentID {
		t.Errorf("expected document id %s, got %s", entry.DocumentID, got.DocumentID)
	}
	if !got.PasswordProtected {
		t.Error("password protection flag lost in the cache")
	}
}

func TestGetMiss(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	if _, err := cache.Get(context.Background(), "unknown-slug"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestEntryExpires(t *testing.T) {
	cache, s := setupTestCache(t, 50*time.Millisecond)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "fugaz-00aa11bb", Entry{DocumentID: "row_2"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	s.FastForward(100 * time.Millisecond)

	if _, err := cache.Get(ctx, "fugaz-00aa11bb"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after TTL, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "sumida-ccdd0011", Entry{DocumentID: "row_3"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "sumida-ccdd0011"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := cache.Get(ctx, "sumida-ccdd0011"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after invalidation, got %v", err)
	}
}
