package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, ttl), s
}

func TestPutGetRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	err := cache.Put(context.Background(), Entry{
		SessionID:  "session-1",
		UserID:     "user-1",
		Latitude:   27.7,
		Longitude:  85.3,
		RecordedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := cache.Get(context.Background(), "session-1", "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected entry")
	}
	if got.Latitude != 27.7 || got.Longitude != 85.3 {
		t.Fatalf("unexpected coordinates: %v %v", got.Latitude, got.Longitude)
	}
	if got.CachedAt.IsZero() {
		t.Fatalf("expected cached_at to be set")
	}
}

func TestGetAfterTTLExpiry(t *testing.T) {
	cache, s := newTestCache(t, time.Minute)

	if err := cache.Put(context.Background(), Entry{SessionID: "session-1", UserID: "user-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	s.FastForward(30 * time.Second)
	got, err := cache.Get(context.Background(), "session-1", "user-1")
	if err != nil || got == nil {
		t.Fatalf("expected entry before expiry: %v", err)
	}

	s.FastForward(31 * time.Second)
	got, err = cache.Get(context.Background(), "session-1", "user-1")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss after ttl")
	}
}

func TestPutOverwriteResetsTTL(t *testing.T) {
	cache, s := newTestCache(t, time.Minute)

	if err := cache.Put(context.Background(), Entry{SessionID: "s", UserID: "u", Latitude: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.FastForward(45 * time.Second)
	if err := cache.Put(context.Background(), Entry{SessionID: "s", UserID: "u", Latitude: 2}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	s.FastForward(45 * time.Second)

	got, err := cache.Get(context.Background(), "s", "u")
	if err != nil || got == nil {
		t.Fatalf("expected entry after overwrite reset ttl")
	}
	if got.Latitude != 2 {
		t.Fatalf("expected last write to win, got lat %v", got.Latitude)
	}
}

func TestGetMissing(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	got, err := cache.Get(context.Background(), "nope", "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss")
	}
}

func TestPutRequiresIdentity(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	if err := cache.Put(context.Background(), Entry{UserID: "u"}); err == nil {
		t.Fatalf("expected error without session id")
	}
}

func TestInvalidatePattern(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	_ = cache.Put(context.Background(), Entry{SessionID: "s1", UserID: "a"})
	_ = cache.Put(context.Background(), Entry{SessionID: "s1", UserID: "b"})
	_ = cache.Put(context.Background(), Entry{SessionID: "s2", UserID: "a"})

	removed, err := cache.Invalidate(context.Background(), "presence:s1:*")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	got, _ := cache.Get(context.Background(), "s2", "a")
	if got == nil {
		t.Fatalf("expected s2 entry to survive")
	}
}

func TestNilClientDisablesCache(t *testing.T) {
	cache := NewCache(nil, 0)

	if err := cache.Put(context.Background(), Entry{SessionID: "s", UserID: "u"}); err != nil {
		t.Fatalf("put on nil client: %v", err)
	}
	got, err := cache.Get(context.Background(), "s", "u")
	if err != nil || got != nil {
		t.Fatalf("expected silent miss on nil client")
	}
	if n, err := cache.Invalidate(context.Background(), "*"); err != nil || n != 0 {
		t.Fatalf("expected no-op invalidate")
	}
}

func TestDefaultTTL(t *testing.T) {
	cache := NewCache(nil, 0)
	if cache.TTL() != 5*time.Minute {
		t.Fatalf("unexpected default ttl: %v", cache.TTL())
	}
}
