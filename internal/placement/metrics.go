package placement

import (
	"github.com/prometheus/client_golang/prometheus"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/geocache"
	"frameworks/sextant/internal/geolookup"
	"frameworks/sextant/internal/jobs"
	"frameworks/sextant/internal/resolver"
	"frameworks/sextant/pkg/monitoring"
)

// Metrics holds optional Prometheus metrics for the engine and everything it
// builds. Any field may be nil.
type Metrics struct {
	// Selections labels: outcome
	Selections *prometheus.CounterVec
	// NodeResolutions labels: source
	NodeResolutions *prometheus.CounterVec
	// TargetResolutions labels: source
	TargetResolutions *prometheus.CounterVec
	// ProviderAttempts labels: provider, status
	ProviderAttempts *prometheus.CounterVec
	// LookupCache labels: event
	LookupCache *prometheus.CounterVec

	RefreshPasses   prometheus.Counter
	RefreshDuration prometheus.Observer
}

// NewMetrics creates and registers the engine metrics on mc.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	m := &Metrics{}
	m.Selections, m.NodeResolutions, m.TargetResolutions = mc.CreateSelectionMetrics()
	m.ProviderAttempts, m.LookupCache = mc.CreateLookupMetrics()
	m.RefreshPasses, m.RefreshDuration = mc.CreateRefreshMetrics()
	return m
}

// RegisterCacheGauges exposes geo cache sizes, read at scrape time.
func RegisterCacheGauges(mc *monitoring.MetricsCollector, store *geocache.Store) {
	const name, help = "geo_cache_entries", "Entries in the geo cache"
	mc.NewGaugeFunc(name, help, prometheus.Labels{"store": "node"}, func() float64 {
		n, _, _ := store.Sizes()
		return float64(n)
	})
	mc.NewGaugeFunc(name, help, prometheus.Labels{"store": "target"}, func() float64 {
		_, n, _ := store.Sizes()
		return float64(n)
	})
	mc.NewGaugeFunc(name, help, prometheus.Labels{"store": "self"}, func() float64 {
		_, _, n := store.Sizes()
		return float64(n)
	})
}

func (m *Metrics) lookupMetrics() *geolookup.Metrics {
	if m == nil {
		return nil
	}
	return &geolookup.Metrics{ProviderAttempts: m.ProviderAttempts, LookupCache: m.LookupCache}
}

func (m *Metrics) resolverMetrics() *resolver.Metrics {
	if m == nil {
		return nil
	}
	return &resolver.Metrics{NodeResolutions: m.NodeResolutions, TargetResolutions: m.TargetResolutions}
}

func (m *Metrics) selectorMetrics() *balancer.Metrics {
	if m == nil {
		return nil
	}
	return &balancer.Metrics{Selections: m.Selections}
}

func (m *Metrics) refreshMetrics() *jobs.RefreshMetrics {
	if m == nil {
		return nil
	}
	return &jobs.RefreshMetrics{Passes: m.RefreshPasses, PassDuration: m.RefreshDuration}
}
