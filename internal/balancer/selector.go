// Package balancer picks the node closest to a target by great-circle
// distance. Selection reads only what the geo cache already holds; anything
// missing is resolved in the background for later calls.
package balancer

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/resolver"
	"frameworks/sextant/pkg/logging"
)

// Selection outcomes, also used as metric label values.
const (
	OutcomeNearest   = "nearest"
	OutcomeFirstNode = "first_node"
	OutcomeEmpty     = "empty"
)

// TargetFunc yields a target coordinate without blocking.
type TargetFunc func() (geo.Coordinate, bool)

// Metrics holds optional Prometheus metrics for the selector.
type Metrics struct {
	// Selections labels: outcome (nearest|first_node|empty)
	Selections *prometheus.CounterVec
}

type Config struct {
	Resolver *resolver.Resolver
	Logger   logging.Logger
	Debug    bool
	Metrics  *Metrics
}

// Selector is safe for concurrent use.
type Selector struct {
	resolver *resolver.Resolver
	logger   logging.Logger
	debug    bool
	metrics  *Metrics
}

func NewSelector(cfg Config) *Selector {
	r := cfg.Resolver
	if r == nil {
		r = resolver.New(resolver.Config{Logger: cfg.Logger, Debug: cfg.Debug})
	}
	return &Selector{
		resolver: r,
		logger:   logging.OrDiscard(cfg.Logger),
		debug:    cfg.Debug,
		metrics:  cfg.Metrics,
	}
}

// Select returns the key of the node nearest to targetID. The target is placed
// by override, cached hint or self location; an empty targetID goes straight
// to self location.
func (s *Selector) Select(targetID string, nodes []Node) (string, bool) {
	return s.SelectWith(func() (geo.Coordinate, bool) {
		return s.resolver.TargetNow(targetID)
	}, nodes)
}

// SelectNear returns the key of the node nearest to an explicit coordinate.
func (s *Selector) SelectNear(target geo.Coordinate, nodes []Node) (string, bool) {
	return s.SelectWith(func() (geo.Coordinate, bool) { return target, true }, nodes)
}

// SelectWith is the selection core. It never blocks: nodes without a cached
// coordinate are queued for background resolution and skipped. When no target
// or no node coordinate is known the first node wins. Ties keep the earlier
// node.
func (s *Selector) SelectWith(target TargetFunc, nodes []Node) (string, bool) {
	if len(nodes) == 0 {
		s.count(OutcomeEmpty)
		return "", false
	}

	cache := s.resolver.Cache()
	type located struct {
		key   string
		coord geo.Coordinate
	}
	known := make([]located, 0, len(nodes))
	for _, n := range nodes {
		key := n.Key()
		c, ok := cache.Node(key)
		if !ok {
			s.resolver.ResolveNodeAsync(key, n.Host)
			continue
		}
		known = append(known, located{key: key, coord: c})
	}

	first := nodes[0].Key()
	tc, ok := target()
	if !ok {
		s.debugf(logging.Fields{"node": first}, "No target location, using first node")
		s.count(OutcomeFirstNode)
		return first, true
	}
	if len(known) == 0 {
		s.debugf(logging.Fields{"node": first, "pending": len(nodes)}, "No node locations cached yet, using first node")
		s.count(OutcomeFirstNode)
		return first, true
	}

	best := ""
	bestDist := math.Inf(1)
	for _, n := range known {
		if d := geo.Distance(tc, n.coord); d < bestDist {
			best, bestDist = n.key, d
		}
	}

	s.debugf(logging.Fields{
		"node":        best,
		"distance_km": math.Round(bestDist),
		"candidates":  len(known),
		"pending":     len(nodes) - len(known),
	}, "Selected nearest node")
	s.count(OutcomeNearest)
	return best, true
}

func (s *Selector) count(outcome string) {
	if s.metrics != nil && s.metrics.Selections != nil {
		s.metrics.Selections.WithLabelValues(outcome).Inc()
	}
}

func (s *Selector) debugf(fields logging.Fields, msg string) {
	if !s.debug {
		return
	}
	s.logger.WithFields(fields).Debug(msg)
}
