// Package placement wires the geo cache, resolver, selector and refresh job
// into an engine that decorates a host node registry. While started, resources
// created without a pinned node are placed on the node nearest to their
// target, and voice-session events are mined for region hints.
package placement

import (
	"context"
	"errors"
	"sync"
	"time"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/geocache"
	"frameworks/sextant/internal/geolookup"
	"frameworks/sextant/internal/jobs"
	"frameworks/sextant/internal/resolver"
	"frameworks/sextant/internal/voice"
	"frameworks/sextant/pkg/logging"
)

var (
	ErrNotStarted     = errors.New("placement engine not started")
	ErrAlreadyStarted = errors.New("placement engine already started")
	ErrNilHost        = errors.New("placement engine requires a host")
)

type Config struct {
	// Cache is reused across Start/Stop cycles. Nil creates a fresh one.
	Cache *geocache.Store
	// Locator answers external geo lookups. Nil uses the public HTTP providers.
	Locator resolver.Locator
	// LookupTimeout bounds each provider attempt of the default locator.
	LookupTimeout time.Duration

	Overrides      resolver.OverrideSource
	TargetResolver resolver.TargetResolverFunc

	// RefreshInterval of zero disables periodic node refresh.
	RefreshInterval time.Duration
	// RefreshConcurrency caps nodes resolved at once per pass. Default 16.
	RefreshConcurrency int

	Debug   bool
	Logger  logging.Logger
	Metrics *Metrics
}

// Engine is safe for concurrent use.
type Engine struct {
	cache    *geocache.Store
	locator  resolver.Locator
	resolver *resolver.Resolver
	selector *balancer.Selector
	logger   logging.Logger
	debug    bool
	interval time.Duration
	workers  int
	metrics  *Metrics

	mu      sync.RWMutex
	running bool
	session uint64
	host    Host
	job     *jobs.GeoRefreshJob
}

func New(cfg Config) *Engine {
	logger := logging.OrDiscard(cfg.Logger)
	cache := cfg.Cache
	if cache == nil {
		cache = geocache.New()
	}
	m := cfg.Metrics

	locator := cfg.Locator
	if locator == nil {
		locator = geolookup.NewDefault(geolookup.Config{
			Timeout: cfg.LookupTimeout,
			Logger:  logger,
			Debug:   cfg.Debug,
			Metrics: m.lookupMetrics(),
		})
	}

	r := resolver.New(resolver.Config{
		Cache:          cache,
		Locator:        locator,
		Overrides:      cfg.Overrides,
		TargetResolver: cfg.TargetResolver,
		Logger:         logger,
		Debug:          cfg.Debug,
		Metrics:        m.resolverMetrics(),
	})

	return &Engine{
		cache:    cache,
		locator:  locator,
		resolver: r,
		selector: balancer.NewSelector(balancer.Config{
			Resolver: r,
			Logger:   logger,
			Debug:    cfg.Debug,
			Metrics:  m.selectorMetrics(),
		}),
		logger:   logger,
		debug:    cfg.Debug,
		interval: cfg.RefreshInterval,
		workers:  cfg.RefreshConcurrency,
		metrics:  m,
	}
}

// Start decorates host and, when a refresh interval is set, starts periodic
// node refresh with an immediate first pass. The returned Host must be used in
// place of the original for placement to take effect.
func (e *Engine) Start(host Host) (Host, error) {
	if host == nil {
		return nil, ErrNilHost
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	e.running = true
	e.session++
	e.host = host
	session := e.session
	if e.interval > 0 {
		e.job = e.newRefreshJob(host)
		e.job.Start()
	}
	e.mu.Unlock()

	// Warm the self location so the first targetless selection can use it.
	e.resolver.SelfNow()

	e.logger.WithFields(logging.Fields{
		"nodes":            len(host.Nodes()),
		"refresh_interval": e.interval.String(),
	}).Info("Placement engine started")

	return &interceptor{inner: host, engine: e, session: session}, nil
}

// Stop ends the session: the refresh job stops ticking and the decorator
// returned by Start becomes a pass-through. Cached locations are kept;
// resolutions already in flight still complete.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.running = false
	job := e.job
	e.job = nil
	e.host = nil
	e.mu.Unlock()

	if job != nil {
		job.Stop()
	}
	e.logger.Info("Placement engine stopped")
	return nil
}

// Running reports whether the engine has an active session.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) active(session uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running && e.session == session
}

func (e *Engine) currentHost() Host {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.host
}

func (e *Engine) newRefreshJob(host Host) *jobs.GeoRefreshJob {
	return jobs.NewGeoRefreshJob(jobs.GeoRefreshConfig{
		Resolver:    e.resolver,
		Nodes:       host.Nodes,
		Logger:      e.logger,
		Interval:    e.interval,
		Concurrency: e.workers,
		Metrics:     e.metrics.refreshMetrics(),
	})
}

// Cache returns the engine's geo cache.
func (e *Engine) Cache() *geocache.Store {
	return e.cache
}

// failureMemory is implemented by locators that remember failed lookups.
type failureMemory interface {
	Forget()
	FailedHosts() []string
}

// ClearCache drops every learned location and any remembered lookup failures.
// Overrides are unaffected.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	if fm, ok := e.locator.(failureMemory); ok {
		fm.Forget()
	}
	e.logger.Info("Geo cache cleared")
}

// FailedLookups lists hosts the locator currently treats as unresolvable.
func (e *Engine) FailedLookups() []string {
	if fm, ok := e.locator.(failureMemory); ok {
		return fm.FailedHosts()
	}
	return nil
}

// Nodes returns the active host's node pool, or nil when stopped.
func (e *Engine) Nodes() []balancer.Node {
	host := e.currentHost()
	if host == nil {
		return nil
	}
	return host.Nodes()
}

// Select picks a node for targetID from the active host's pool without
// creating anything. It never blocks.
func (e *Engine) Select(targetID string) (string, bool) {
	return e.selector.Select(targetID, e.Nodes())
}

// SelectNear picks the node nearest to c from the active host's pool.
func (e *Engine) SelectNear(c geo.Coordinate) (string, bool) {
	return e.selector.SelectNear(c, e.Nodes())
}

// ResolveTarget resolves a target's location, waiting on the caller resolver
// and self lookup where needed. Meant for background use, not request paths.
func (e *Engine) ResolveTarget(ctx context.Context, targetID string) (geo.Coordinate, bool) {
	return e.resolver.ResolveTarget(ctx, targetID)
}

// ResolveNode re-resolves one node immediately.
func (e *Engine) ResolveNode(ctx context.Context, n balancer.Node) (geo.Coordinate, bool) {
	return e.resolver.ResolveNode(ctx, n.Key(), n.Host)
}

// Refresh runs one resolution pass over the active host's nodes and waits for
// it to finish.
func (e *Engine) Refresh(ctx context.Context) (jobs.PassResult, error) {
	e.mu.RLock()
	host, job := e.host, e.job
	e.mu.RUnlock()
	if host == nil {
		return jobs.PassResult{}, ErrNotStarted
	}
	if job == nil {
		job = e.newRefreshJob(host)
	}
	return job.RunOnce(ctx), nil
}

// HandleVoiceEvent records the region hint carried by a voice-session payload
// and reports whether one was learned. Unrecognized payloads are ignored.
func (e *Engine) HandleVoiceEvent(payload []byte) bool {
	hint, ok := voice.ParseHint(payload)
	if !ok {
		if e.debug {
			e.logger.WithField("bytes", len(payload)).Debug("Ignoring voice event without a usable hint")
		}
		return false
	}
	return e.resolver.RecordHint(hint.TargetID, hint.Region)
}
