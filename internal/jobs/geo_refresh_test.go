package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/resolver"
)

type countingLocator struct {
	mu    sync.Mutex
	hosts map[string]geo.Coordinate
	calls atomic.Int32
}

func (l *countingLocator) Lookup(ctx context.Context, host string) (geo.Coordinate, bool) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.hosts[host]
	return c, ok
}

func (l *countingLocator) LookupSelf(ctx context.Context) (geo.Coordinate, bool) {
	return geo.Coordinate{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	loc := &countingLocator{hosts: map[string]geo.Coordinate{
		"one.example.net":   {Lat: 1, Lon: 1},
		"three.example.net": {Lat: 3, Lon: 3},
	}}
	r := resolver.New(resolver.Config{Locator: loc})
	passes := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_refresh_passes_total"})
	job := NewGeoRefreshJob(GeoRefreshConfig{
		Resolver: r,
		Nodes: func() []balancer.Node {
			return []balancer.Node{
				{ID: "n1", Host: "one.example.net"},
				{ID: "n2", Host: "missing.example.net"},
				{ID: "n3", Host: "three.example.net"},
			}
		},
		Metrics: &RefreshMetrics{Passes: passes},
	})

	res := job.RunOnce(context.Background())
	if res.Nodes != 3 || res.Resolved != 2 || res.Unresolved != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, key := range []string{"n1", "n3"} {
		if _, ok := r.Cache().Node(key); !ok {
			t.Fatalf("%s not cached", key)
		}
	}
	if _, ok := r.Cache().Node("n2"); ok {
		t.Fatal("n2 should be unresolved")
	}
	if got := testutil.ToFloat64(passes); got != 1 {
		t.Fatalf("passes = %v", got)
	}
}

func TestStartRunsImmediatePass(t *testing.T) {
	loc := &countingLocator{hosts: map[string]geo.Coordinate{"one.example.net": {Lat: 1, Lon: 1}}}
	r := resolver.New(resolver.Config{Locator: loc})
	job := NewGeoRefreshJob(GeoRefreshConfig{
		Resolver: r,
		Nodes:    func() []balancer.Node { return []balancer.Node{{Host: "one.example.net"}} },
		Interval: time.Hour,
	})

	job.Start()
	t.Cleanup(job.Stop)

	waitFor(t, func() bool {
		_, ok := r.Cache().Node("one.example.net")
		return ok
	})
}

func TestStopHaltsTicksAndRestartPassesAgain(t *testing.T) {
	var listed atomic.Int32
	loc := &countingLocator{}
	r := resolver.New(resolver.Config{Locator: loc})
	job := NewGeoRefreshJob(GeoRefreshConfig{
		Resolver: r,
		Nodes: func() []balancer.Node {
			listed.Add(1)
			return []balancer.Node{{Host: "one.example.net"}}
		},
		Interval: 20 * time.Millisecond,
	})

	job.Start()
	waitFor(t, func() bool { return listed.Load() >= 2 })
	job.Stop()
	if job.Running() {
		t.Fatal("job still running after Stop")
	}

	// Let any pass that was already in flight finish before sampling.
	time.Sleep(50 * time.Millisecond)
	stopped := listed.Load()
	time.Sleep(100 * time.Millisecond)
	if got := listed.Load(); got != stopped {
		t.Fatalf("passes ran after stop: %d -> %d", stopped, got)
	}

	job.Start()
	t.Cleanup(job.Stop)
	waitFor(t, func() bool { return listed.Load() > stopped })
}

func TestStartStopIdempotent(t *testing.T) {
	job := NewGeoRefreshJob(GeoRefreshConfig{Resolver: resolver.New(resolver.Config{}), Interval: time.Hour})
	job.Stop()
	job.Start()
	job.Start()
	if !job.Running() {
		t.Fatal("expected running")
	}
	job.Stop()
	job.Stop()
	if job.Running() {
		t.Fatal("expected stopped")
	}
}

type blockingLocator struct {
	release chan struct{}
}

func (l *blockingLocator) Lookup(ctx context.Context, host string) (geo.Coordinate, bool) {
	<-l.release
	return geo.Coordinate{Lat: 1, Lon: 1}, true
}

func (l *blockingLocator) LookupSelf(ctx context.Context) (geo.Coordinate, bool) {
	return geo.Coordinate{}, false
}

func TestTicksSkipWhileStartupPassRuns(t *testing.T) {
	loc := &blockingLocator{release: make(chan struct{})}
	var listed atomic.Int32
	job := NewGeoRefreshJob(GeoRefreshConfig{
		Resolver: resolver.New(resolver.Config{Locator: loc}),
		Nodes: func() []balancer.Node {
			listed.Add(1)
			return []balancer.Node{{Host: "one.example.net"}}
		},
		Interval: 5 * time.Millisecond,
	})

	job.Start()
	t.Cleanup(job.Stop)
	waitFor(t, func() bool { return listed.Load() == 1 })

	// Many ticks elapse while the startup pass is blocked on its lookup.
	time.Sleep(60 * time.Millisecond)
	if got := listed.Load(); got != 1 {
		t.Fatalf("ticks overlapped the startup pass: %d passes started", got)
	}

	close(loc.release)
	waitFor(t, func() bool { return listed.Load() > 1 })
}
