package objcache_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache(clock *fakeClock, opts ...objcache.Option) (*objcache.Cache, *objcache.MemoryStorage) {
	storage := objcache.NewMemoryStorage()
	opts = append([]objcache.Option{objcache.WithClock(clock.Now)}, opts...)
	return objcache.New(storage, opts...), storage
}

func TestTTLBoundary(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache, _ := newCache(clock)

	record := map[string]any{"id": "7", "name": "ada"}
	if err := cache.Set(ctx, "user:7", record, objcache.WithTTL(3600*time.Second)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock.Advance(3599 * time.Second)
	var got map[string]any
	ok, err := cache.Get(ctx, "user:7", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got["name"] != "ada" {
		t.Fatalf("expected hit with original value, got ok=%v value=%#v", ok, got)
	}

	clock.Advance(2 * time.Second)
	ok, err = cache.Get(ctx, "user:7", &got)
	if err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if ok {
		t.Fatalf("expected miss after ttl elapsed")
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected expired entry to be evicted, keys=%v", keys)
	}
}

func TestReadsDoNotExtendExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache, _ := newCache(clock)

	if err := cache.Set(ctx, "k", "v", objcache.WithTTL(10*time.Second)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 3; i++ {
		clock.Advance(4 * time.Second)
		var v string
		ok, err := cache.Get(ctx, "k", &v)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if i < 2 && !ok {
			t.Fatalf("read %d: expected hit", i)
		}
		if i == 2 && ok {
			t.Fatalf("read %d: expected expiry 12s after write", i)
		}
	}
}

func TestDefaultAndNoExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache, _ := newCache(clock)

	if err := cache.Set(ctx, "default", 1); err != nil {
		t.Fatalf("Set default: %v", err)
	}
	if err := cache.Set(ctx, "forever", 2, objcache.WithTTL(objcache.NoExpiry)); err != nil {
		t.Fatalf("Set forever: %v", err)
	}

	clock.Advance(objcache.DefaultTTL - time.Second)
	if ok, _ := cache.Get(ctx, "default", nil); !ok {
		t.Fatalf("expected default entry alive before 4h")
	}
	clock.Advance(2 * time.Second)
	if ok, _ := cache.Get(ctx, "default", nil); ok {
		t.Fatalf("expected default entry expired after 4h")
	}

	clock.Advance(365 * 24 * time.Hour)
	var v int
	ok, err := cache.Get(ctx, "forever", &v)
	if err != nil || !ok || v != 2 {
		t.Fatalf("expected never-expiring entry, ok=%v v=%d err=%v", ok, v, err)
	}
}

func TestRemoveReturnsPreviousValue(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache, _ := newCache(clock)

	if err := cache.Set(ctx, "user:1", map[string]any{"name": "grace"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var prev map[string]any
	ok, err := cache.Remove(ctx, "user:1", &prev)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !ok || prev["name"] != "grace" {
		t.Fatalf("unexpected previous value ok=%v prev=%#v", ok, prev)
	}
	ok, err = cache.Remove(ctx, "user:1", nil)
	if err != nil || ok {
		t.Fatalf("second Remove should miss, ok=%v err=%v", ok, err)
	}
}

func TestLargeEntriesRoundTripCompressed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache, storage := newCache(clock, objcache.WithCompressThreshold(64))

	body := strings.Repeat("records ", 1024)
	if err := cache.Set(ctx, "doc:1", map[string]any{"body": body}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, ok, err := storage.GetItem(ctx, "doc:1")
	if err != nil || !ok {
		t.Fatalf("GetItem: ok=%v err=%v", ok, err)
	}
	if len(raw) >= len(body) {
		t.Fatalf("expected compressed entry, got %d bytes for %d byte body", len(raw), len(body))
	}

	var got map[string]any
	if ok, err := cache.Get(ctx, "doc:1", &got); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got["body"] != body {
		t.Fatalf("compressed body did not round trip")
	}
}

func TestCorruptEntryIsAnError(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache, storage := newCache(clock)

	if err := storage.SetItem(ctx, "bad", []byte{9, 9, 9}); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, err := cache.Get(ctx, "bad", nil); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestKeysSortedAndSize(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache, _ := newCache(clock)

	for _, k := range []string{"b", "c", "a"} {
		if err := cache.Set(ctx, k, k); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if strings.Join(keys, ",") != "a,b,c" {
		t.Fatalf("unexpected keys %v", keys)
	}
	n, err := cache.Size(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Size = %d, %v", n, err)
	}
}

func TestNilCacheIsClosed(t *testing.T) {
	var cache *objcache.Cache
	if _, err := cache.Get(context.Background(), "k", nil); !errors.Is(err, objcache.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
