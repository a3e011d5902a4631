package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/resolver"
	"frameworks/sextant/pkg/logging"
)

const (
	defaultRefreshInterval    = 5 * time.Minute
	defaultRefreshConcurrency = 16
)

// GeoRefreshJob periodically re-resolves the location of every known node.
// Stopping it ends future passes only; a pass already running finishes and its
// results still land in the geo cache.
type GeoRefreshJob struct {
	resolver    *resolver.Resolver
	nodes       func() []balancer.Node
	logger      logging.Logger
	interval    time.Duration
	concurrency int
	metrics     *RefreshMetrics

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}

	// inFlight counts detached passes. Ticks only start a pass when it is zero.
	inFlight atomic.Int32
}

// RefreshMetrics holds optional Prometheus metrics for the refresh job.
type RefreshMetrics struct {
	Passes       prometheus.Counter
	PassDuration prometheus.Observer
}

// GeoRefreshConfig holds configuration for the refresh job
type GeoRefreshConfig struct {
	Resolver *resolver.Resolver
	// Nodes returns the current node pool. It is called once per pass.
	Nodes       func() []balancer.Node
	Logger      logging.Logger
	Interval    time.Duration // How often to run (default: 5 minutes)
	Concurrency int           // Max nodes resolved at once (default: 16)
	Metrics     *RefreshMetrics
}

// PassResult summarizes one resolution pass.
type PassResult struct {
	Nodes      int           `json:"nodes"`
	Resolved   int           `json:"resolved"`
	Unresolved int           `json:"unresolved"`
	Duration   time.Duration `json:"duration_ns"`
}

// NewGeoRefreshJob creates a new refresh job
func NewGeoRefreshJob(cfg GeoRefreshConfig) *GeoRefreshJob {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}
	nodes := cfg.Nodes
	if nodes == nil {
		nodes = func() []balancer.Node { return nil }
	}
	return &GeoRefreshJob{
		resolver:    cfg.Resolver,
		nodes:       nodes,
		logger:      logging.OrDiscard(cfg.Logger),
		interval:    interval,
		concurrency: concurrency,
		metrics:     cfg.Metrics,
	}
}

// Start begins the refresh loop with an immediate pass. Starting a running job
// is a no-op.
func (j *GeoRefreshJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopCh != nil {
		return
	}
	j.stopCh = make(chan struct{})
	j.done = make(chan struct{})
	go j.run(j.stopCh, j.done)
	j.logger.WithField("interval", j.interval.String()).Info("Geo refresh job started")
}

// Stop halts the loop and waits for it to exit. It does not wait for a pass
// that is already resolving nodes.
func (j *GeoRefreshJob) Stop() {
	j.mu.Lock()
	stopCh, done := j.stopCh, j.done
	j.stopCh, j.done = nil, nil
	j.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
	j.logger.Info("Geo refresh job stopped")
}

// Running reports whether the loop is active.
func (j *GeoRefreshJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopCh != nil
}

func (j *GeoRefreshJob) run(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// The startup pass always runs, even if one from before a restart is
	// still in flight. Ticks skip while it does.
	j.inFlight.Add(1)
	go func() {
		defer j.inFlight.Add(-1)
		j.RunOnce(context.Background())
	}()

	for {
		select {
		case <-ticker.C:
			go j.tick()
		case <-stopCh:
			return
		}
	}
}

// tick runs a detached pass unless another one is still going.
func (j *GeoRefreshJob) tick() {
	if !j.inFlight.CompareAndSwap(0, 1) {
		j.logger.Debug("Previous geo refresh pass still running, skipping tick")
		return
	}
	defer j.inFlight.Add(-1)
	j.RunOnce(context.Background())
}

// RunOnce resolves every node in the pool concurrently. One node failing to
// resolve does not affect the others.
func (j *GeoRefreshJob) RunOnce(ctx context.Context) PassResult {
	start := time.Now()
	nodes := j.nodes()

	var resolved atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for _, n := range nodes {
		g.Go(func() error {
			if _, ok := j.resolver.ResolveNode(ctx, n.Key(), n.Host); ok {
				resolved.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := PassResult{
		Nodes:      len(nodes),
		Resolved:   int(resolved.Load()),
		Unresolved: len(nodes) - int(resolved.Load()),
		Duration:   time.Since(start),
	}
	if j.metrics != nil {
		if j.metrics.Passes != nil {
			j.metrics.Passes.Inc()
		}
		if j.metrics.PassDuration != nil {
			j.metrics.PassDuration.Observe(res.Duration.Seconds())
		}
	}

	entry := j.logger.WithFields(logging.Fields{
		"nodes":       res.Nodes,
		"resolved":    res.Resolved,
		"unresolved":  res.Unresolved,
		"duration_ms": res.Duration.Milliseconds(),
	})
	if res.Unresolved > 0 {
		entry.Warn("Geo refresh pass left nodes unresolved")
	} else {
		entry.Info("Geo refresh pass complete")
	}
	return res
}
