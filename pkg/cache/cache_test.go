package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(calls *int32) Loader[string] {
	return func(_ context.Context, _ string) (string, bool, error) {
		atomic.AddInt32(calls, 1)
		return "", false, errBoom
	}
}

func TestCacheDoesNotStoreSuccesses(t *testing.T) {
	c := New[int](Options{NegativeTTL: time.Minute}, MetricsHooks{})

	var calls int32
	loader := func(_ context.Context, _ string) (int, bool, error) {
		return int(atomic.AddInt32(&calls, 1)), true, nil
	}

	for i := 1; i <= 3; i++ {
		val, ok, err := c.Get(context.Background(), "k", loader)
		if err != nil || !ok || val != i {
			t.Fatalf("call %d: expected fresh load %d, got %d ok=%v err=%v", i, i, val, ok, err)
		}
	}
	if len(c.Snapshot()) != 0 {
		t.Fatalf("expected no stored entries")
	}
}

func TestCacheNegativeTTL(t *testing.T) {
	c := New[string](Options{NegativeTTL: 30 * time.Millisecond, MaxEntries: 10}, MetricsHooks{})

	var calls int32
	loader := failing(&calls)

	_, ok, err := c.Get(context.Background(), "neg", loader)
	if ok || !errors.Is(err, errBoom) {
		t.Fatalf("expected negative load error")
	}

	_, ok, err = c.Get(context.Background(), "neg", loader)
	if ok || !errors.Is(err, errBoom) {
		t.Fatalf("expected cached negative error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected single loader call, got %d", got)
	}

	snapshot := c.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Key != "neg" || !errors.Is(snapshot[0].Err, errBoom) {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	time.Sleep(35 * time.Millisecond)
	_, _, _ = c.Get(context.Background(), "neg", loader)
	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Fatalf("expected loader to run after negative ttl")
	}
}

func TestCacheZeroNegativeTTLStoresNothing(t *testing.T) {
	c := New[string](Options{}, MetricsHooks{})
	var calls int32
	for i := 0; i < 3; i++ {
		_, _, _ = c.Get(context.Background(), "k", failing(&calls))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected every get to load, got %d loads", got)
	}
}

func TestCacheSkipsCanceledLoads(t *testing.T) {
	c := New[string](Options{NegativeTTL: time.Minute}, MetricsHooks{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	loader := func(ctx context.Context, _ string) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return "", false, ctx.Err()
	}
	if _, ok, _ := c.Get(ctx, "k", loader); ok {
		t.Fatal("expected canceled load to fail")
	}
	if len(c.Snapshot()) != 0 {
		t.Fatal("canceled load was remembered")
	}

	val, ok, err := c.Get(context.Background(), "k", func(_ context.Context, key string) (string, bool, error) {
		return key + "-value", true, nil
	})
	if err != nil || !ok || val != "k-value" {
		t.Fatalf("expected a fresh load after cancel, got %q %v %v", val, ok, err)
	}
}

func TestCacheCollapsesConcurrentLoads(t *testing.T) {
	c := New[int](Options{}, MetricsHooks{})

	var calls int32
	release := make(chan struct{})
	loader := func(_ context.Context, _ string) (int, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(context.Background(), "shared", loader)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one loader call for concurrent gets, got %d", got)
	}
}

func TestCacheEvictionDeletePurge(t *testing.T) {
	c := New[string](Options{NegativeTTL: time.Minute, MaxEntries: 2}, MetricsHooks{})
	var calls int32

	for _, k := range []string{"first", "second", "third"} {
		_, _, _ = c.Get(context.Background(), k, failing(&calls))
	}

	snapshot := c.Snapshot()
	if len(snapshot) != 2 || snapshot[0].Key != "second" || snapshot[1].Key != "third" {
		t.Fatalf("expected first entry to be evicted, got %+v", snapshot)
	}

	c.Delete("second")
	if snapshot := c.Snapshot(); len(snapshot) != 1 || snapshot[0].Key != "third" {
		t.Fatalf("expected second to be deleted, got %+v", snapshot)
	}

	c.Purge()
	if len(c.Snapshot()) != 0 {
		t.Fatalf("expected purge to drop everything")
	}
}

func TestCacheMetricsHooks(t *testing.T) {
	var hits, misses, stores int32
	c := New[string](Options{NegativeTTL: time.Minute}, MetricsHooks{
		OnHit:   func(map[string]string) { atomic.AddInt32(&hits, 1) },
		OnMiss:  func(map[string]string) { atomic.AddInt32(&misses, 1) },
		OnStore: func(map[string]string) { atomic.AddInt32(&stores, 1) },
	})
	var calls int32

	_, _, _ = c.Get(context.Background(), "a", failing(&calls))
	_, _, _ = c.Get(context.Background(), "a", failing(&calls))

	if hits != 1 || misses != 1 || stores != 1 {
		t.Fatalf("unexpected hook counts hits=%d misses=%d stores=%d", hits, misses, stores)
	}
}
