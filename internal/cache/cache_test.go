package cache

import (
	"context"
	"testing"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/alicebob/miniredis/v2"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		_ = cache.Set(ctx, "forever", []byte("x"), 0)
		time.Sleep(5 * time.Millisecond)

		val, _ := cache.Get(ctx, "forever")
		if val == nil {
			t.Error("expected value with zero ttl to persist")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)
		_, _ = statsCache.Get(ctx, "k1")
		_, _ = statsCache.Get(ctx, "missing")

		stats := statsCache.Stats()
		if stats.Size != 2 {
			t.Errorf("expected size 2, got %d", stats.Size)
		}
		if stats.Capacity != 50 {
			t.Errorf("expected capacity 50, got %d", stats.Capacity)
		}
		if stats.Hits != 1 || stats.Misses != 1 {
			t.Errorf("expected 1 hit and 1 miss, got %d and %d", stats.Hits, stats.Misses)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer cache.Close()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "artifact", []byte("bytes"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, "artifact")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "bytes" {
			t.Errorf("expected 'bytes', got '%s'", string(val))
		}
		if !mr.Exists("fraudscore:cache:artifact") {
			t.Error("expected prefixed key in redis")
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("TTL", func(t *testing.T) {
		_ = cache.Set(ctx, "short", []byte("x"), time.Second)
		mr.FastForward(2 * time.Second)

		val, _ := cache.Get(ctx, "short")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "gone", []byte("x"), time.Minute)
		if err := cache.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := cache.Get(ctx, "gone")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("ConnectFailure", func(t *testing.T) {
		_, err := NewRedisCache("127.0.0.1:1", "", 0)
		if err == nil {
			t.Error("expected error for unreachable redis")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewTwoPhaseCache(domain.CacheConfig{
		LocalMaxSize: 10,
		LocalTTL:     time.Minute,
		RedisAddr:    mr.Addr(),
	})
	if err != nil {
		t.Fatalf("NewTwoPhaseCache failed: %v", err)
	}
	defer cache.Close()

	t.Run("WritesBothLevels", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("v"), time.Hour)

		local, _ := cache.local.Get(ctx, "k")
		if string(local) != "v" {
			t.Errorf("expected L1 value 'v', got '%s'", string(local))
		}
		remote, _ := cache.remote.Get(ctx, "k")
		if string(remote) != "v" {
			t.Errorf("expected L2 value 'v', got '%s'", string(remote))
		}
	})

	t.Run("L2HitPopulatesL1", func(t *testing.T) {
		_ = cache.remote.Set(ctx, "remote-only", []byte("r"), time.Hour)

		val, err := cache.Get(ctx, "remote-only")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got '%s'", string(val))
		}

		local, _ := cache.local.Get(ctx, "remote-only")
		if local == nil {
			t.Error("expected L1 to be populated after L2 hit")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisTwoPhase", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*TwoPhaseCache); !ok {
			t.Error("expected TwoPhaseCache for redis with two-phase enabled")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if cache != nil {
			t.Error("expected nil cache for none type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
