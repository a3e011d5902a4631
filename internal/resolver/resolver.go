// Package resolver fills the geo cache. Node locations come from overrides or
// the external lookup client; target locations from overrides, region hints,
// a caller callback or, failing all of those, the host's own location.
//
// Every resolver method either blocks on network work (ResolveNode,
// ResolveTarget, Self) or never does (the *Now and *Async variants). The
// selector only uses the latter.
package resolver

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/geocache"
	"frameworks/sextant/pkg/logging"
)

// DefaultCallbackTimeout bounds a caller TargetResolverFunc invocation.
const DefaultCallbackTimeout = 5 * time.Second

// Locator is the external lookup surface the resolver depends on.
type Locator interface {
	Lookup(ctx context.Context, host string) (geo.Coordinate, bool)
	LookupSelf(ctx context.Context) (geo.Coordinate, bool)
}

// TargetResolverFunc is the caller's hook for placing a target nobody has
// hinted yet. Returning ok=false or an error means "no opinion".
type TargetResolverFunc func(ctx context.Context, targetID string) (geo.Location, bool, error)

// Metrics holds optional Prometheus metrics for resolution outcomes.
type Metrics struct {
	// NodeResolutions labels: source (override|lookup|unresolved)
	NodeResolutions *prometheus.CounterVec
	// TargetResolutions labels: source (override|hint|callback|self|unresolved)
	TargetResolutions *prometheus.CounterVec
}

type Config struct {
	Cache          *geocache.Store
	Locator        Locator
	Overrides      OverrideSource
	TargetResolver TargetResolverFunc
	// CallbackTimeout bounds TargetResolver calls. Default 5s.
	CallbackTimeout time.Duration

	Logger  logging.Logger
	Debug   bool
	Metrics *Metrics
}

type Resolver struct {
	cache           *geocache.Store
	locator         Locator
	overrides       OverrideSource
	targetResolver  TargetResolverFunc
	callbackTimeout time.Duration
	logger          logging.Logger
	debug           bool
	metrics         *Metrics
	sf              singleflight.Group
}

func New(cfg Config) *Resolver {
	cache := cfg.Cache
	if cache == nil {
		cache = geocache.New()
	}
	timeout := cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	return &Resolver{
		cache:           cache,
		locator:         cfg.Locator,
		overrides:       cfg.Overrides,
		targetResolver:  cfg.TargetResolver,
		callbackTimeout: timeout,
		logger:          logging.OrDiscard(cfg.Logger),
		debug:           cfg.Debug,
		metrics:         cfg.Metrics,
	}
}

// Cache returns the store this resolver writes into.
func (r *Resolver) Cache() *geocache.Store {
	return r.cache
}

// ResolveNode resolves a node's coordinate and writes it into the cache.
// Precedence: override, then external lookup by host. An unresolved node keeps
// whatever the cache already held for it.
//
// The resolution is shared with concurrent callers for the same key and is not
// tied to ctx: a canceled caller returns false at once while the lookup runs
// on and still fills the cache.
func (r *Resolver) ResolveNode(ctx context.Context, nodeKey, host string) (geo.Coordinate, bool) {
	ch := r.sf.DoChan("node:"+nodeKey, func() (interface{}, error) {
		c, ok := r.resolveNode(context.WithoutCancel(ctx), nodeKey, host)
		return result{c, ok}, nil
	})
	return wait(ctx, ch)
}

// ResolveNodeAsync starts ResolveNode in the background unless a resolution
// for the same key is already running. It never blocks and is not cancelled by
// the caller; the only effect is the cache write.
func (r *Resolver) ResolveNodeAsync(nodeKey, host string) {
	r.sf.DoChan("node:"+nodeKey, func() (interface{}, error) {
		c, ok := r.resolveNode(context.Background(), nodeKey, host)
		return result{c, ok}, nil
	})
}

type result struct {
	coord geo.Coordinate
	ok    bool
}

func wait(ctx context.Context, ch <-chan singleflight.Result) (geo.Coordinate, bool) {
	select {
	case v := <-ch:
		res := v.Val.(result)
		return res.coord, res.ok
	case <-ctx.Done():
		return geo.Coordinate{}, false
	}
}

func (r *Resolver) resolveNode(ctx context.Context, nodeKey, host string) (geo.Coordinate, bool) {
	if r.overrides != nil {
		if loc, ok := r.overrides.NodeOverride(nodeKey); ok {
			if c, ok := loc.Resolve(); ok {
				r.cache.SetNode(nodeKey, c)
				r.countNode("override")
				r.debugf(logging.Fields{"node": nodeKey, "override": loc.String()}, "Node location from override")
				return c, true
			}
			r.debugf(logging.Fields{"node": nodeKey, "override": loc.String()}, "Node override did not resolve, trying lookup")
		}
	}

	if r.locator != nil && host != "" {
		if c, ok := r.locator.Lookup(ctx, host); ok {
			r.cache.SetNode(nodeKey, c)
			r.countNode("lookup")
			return c, true
		}
	}

	r.countNode("unresolved")
	r.debugf(logging.Fields{"node": nodeKey, "host": host}, "Node location unresolved")
	return geo.Coordinate{}, false
}

// ResolveTarget resolves a target's coordinate, waiting on the caller callback
// and the self lookup if needed. Precedence: override, cached hint, callback,
// self location.
func (r *Resolver) ResolveTarget(ctx context.Context, targetID string) (geo.Coordinate, bool) {
	if c, source, ok := r.targetFromMemory(targetID); ok {
		r.countTarget(source)
		return c, true
	}
	if c, ok := r.callTargetResolver(ctx, targetID); ok {
		r.countTarget("callback")
		return c, true
	}
	if c, ok := r.Self(ctx); ok {
		r.countTarget("self")
		return c, true
	}
	r.countTarget("unresolved")
	return geo.Coordinate{}, false
}

// TargetNow is the non-blocking form of ResolveTarget. A callback that would
// have to be awaited is started in the background instead and this call falls
// through to the cached self location.
func (r *Resolver) TargetNow(targetID string) (geo.Coordinate, bool) {
	if c, source, ok := r.targetFromMemory(targetID); ok {
		r.countTarget(source)
		return c, true
	}
	if targetID != "" && r.targetResolver != nil {
		r.sf.DoChan("target:"+targetID, func() (interface{}, error) {
			c, ok := r.callTargetResolver(context.Background(), targetID)
			return result{c, ok}, nil
		})
	}
	if c, ok := r.SelfNow(); ok {
		r.countTarget("self")
		return c, true
	}
	r.countTarget("unresolved")
	return geo.Coordinate{}, false
}

func (r *Resolver) targetFromMemory(targetID string) (geo.Coordinate, string, bool) {
	if targetID == "" {
		return geo.Coordinate{}, "", false
	}
	if r.overrides != nil {
		if loc, ok := r.overrides.TargetOverride(targetID); ok {
			if c, ok := loc.Resolve(); ok {
				return c, "override", true
			}
		}
	}
	if c, ok := r.cache.Target(targetID); ok {
		return c, "hint", true
	}
	return geo.Coordinate{}, "", false
}

// callTargetResolver runs the caller callback under the callback timeout. A
// result is cached only if no region hint landed while it ran.
func (r *Resolver) callTargetResolver(ctx context.Context, targetID string) (geo.Coordinate, bool) {
	if targetID == "" || r.targetResolver == nil {
		return geo.Coordinate{}, false
	}
	cctx, cancel := context.WithTimeout(ctx, r.callbackTimeout)
	defer cancel()

	loc, ok, err := r.targetResolver(cctx, targetID)
	if err != nil {
		r.debugf(logging.Fields{"target": targetID, "error": err.Error()}, "Target resolver callback failed")
		return geo.Coordinate{}, false
	}
	if !ok {
		return geo.Coordinate{}, false
	}
	c, ok := loc.Resolve()
	if !ok {
		r.debugf(logging.Fields{"target": targetID, "location": loc.String()}, "Target resolver returned an unknown location")
		return geo.Coordinate{}, false
	}
	r.cache.SetTargetIfAbsent(targetID, c)
	return c, true
}

// Self returns the host's own coordinate, looking it up if it has never
// resolved. Once resolved it is kept for the life of the cache. Like
// ResolveNode, the lookup outlives a canceled caller.
func (r *Resolver) Self(ctx context.Context) (geo.Coordinate, bool) {
	if c, ok := r.cache.Self(); ok {
		return c, true
	}
	ch := r.sf.DoChan("self", func() (interface{}, error) {
		c, ok := r.resolveSelf(context.WithoutCancel(ctx))
		return result{c, ok}, nil
	})
	return wait(ctx, ch)
}

// SelfNow returns the cached self coordinate. On a miss it starts one
// background lookup (if none is running) and reports false.
func (r *Resolver) SelfNow() (geo.Coordinate, bool) {
	if c, ok := r.cache.Self(); ok {
		return c, true
	}
	r.sf.DoChan("self", func() (interface{}, error) {
		c, ok := r.resolveSelf(context.Background())
		return result{c, ok}, nil
	})
	return geo.Coordinate{}, false
}

func (r *Resolver) resolveSelf(ctx context.Context) (geo.Coordinate, bool) {
	if c, ok := r.cache.Self(); ok {
		return c, true
	}
	if r.locator == nil {
		return geo.Coordinate{}, false
	}
	c, ok := r.locator.LookupSelf(ctx)
	if !ok {
		r.debugf(nil, "Self location unresolved, will retry on next access")
		return geo.Coordinate{}, false
	}
	r.cache.SetSelf(c)
	r.logger.WithField("bucket", bucketLabel(c)).Info("Resolved self location")
	return c, true
}

// RecordHint stores a region hint for a target. Unknown regions are ignored.
func (r *Resolver) RecordHint(targetID, region string) bool {
	if targetID == "" {
		return false
	}
	c, ok := geo.RegionCoordinate(region)
	if !ok {
		r.debugf(logging.Fields{"target": targetID, "region": region}, "Ignoring hint for unknown region")
		return false
	}
	r.cache.SetTarget(targetID, c)
	r.debugf(logging.Fields{"target": targetID, "region": region}, "Recorded region hint")
	return true
}

func (r *Resolver) countNode(source string) {
	if r.metrics != nil && r.metrics.NodeResolutions != nil {
		r.metrics.NodeResolutions.WithLabelValues(source).Inc()
	}
}

func (r *Resolver) countTarget(source string) {
	if r.metrics != nil && r.metrics.TargetResolutions != nil {
		r.metrics.TargetResolutions.WithLabelValues(source).Inc()
	}
}

func (r *Resolver) debugf(fields logging.Fields, msg string) {
	if !r.debug {
		return
	}
	r.logger.WithFields(fields).Debug(msg)
}

func bucketLabel(c geo.Coordinate) string {
	if b, ok := geo.BucketOf(c); ok {
		return b.H3Index
	}
	return "invalid"
}
