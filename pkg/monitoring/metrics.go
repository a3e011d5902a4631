package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for a service
type MetricsCollector struct {
	serviceName string
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer

	// Standard HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
	serviceInfo         *prometheus.GaugeVec

	// Custom metrics registry
	customMetrics map[string]prometheus.Collector
}

// NewMetricsCollector creates a new metrics collector for a service on the
// default Prometheus registry.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(serviceName, version, commit, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsCollectorWithRegistry creates a collector bound to a specific
// registry. Tests pass a fresh prometheus.NewRegistry() for both arguments.
func NewMetricsCollectorWithRegistry(serviceName, version, commit string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *MetricsCollector {
	// Sanitize service name for Prometheus (replace hyphens with underscores)
	sanitizedServiceName := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{
		serviceName:   sanitizedServiceName,
		registerer:    reg,
		gatherer:      gatherer,
		customMetrics: make(map[string]prometheus.Collector),
	}

	mc.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	mc.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    mc.serviceName + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	mc.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_active_connections",
			Help: "Number of active connections",
		},
	)

	mc.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_service_info",
			Help: "Service information",
		},
		[]string{"version", "commit"},
	)

	reg.MustRegister(mc.httpRequestsTotal)
	reg.MustRegister(mc.httpRequestDuration)
	reg.MustRegister(mc.activeConnections)
	reg.MustRegister(mc.serviceInfo)

	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// RegisterCustomMetric registers a custom Prometheus metric
func (mc *MetricsCollector) RegisterCustomMetric(name string, metric prometheus.Collector) {
	mc.customMetrics[name] = metric
	mc.registerer.MustRegister(metric)
}

// MetricsMiddleware returns middleware that collects HTTP metrics
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		mc.activeConnections.Inc()
		defer mc.activeConnections.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		mc.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// Service-specific metric helpers

// NewCounter creates a new counter metric for the service
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_" + name,
			Help: help,
		},
		labels,
	)
	mc.RegisterCustomMetric(name, counter)
	return counter
}

// NewGauge creates a new gauge metric for the service
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_" + name,
			Help: help,
		},
		labels,
	)
	mc.RegisterCustomMetric(name, gauge)
	return gauge
}

// NewGaugeFunc registers a gauge whose value is read from fn at scrape time.
// Several funcs may share a name as long as their constLabels differ.
func (mc *MetricsCollector) NewGaugeFunc(name, help string, constLabels prometheus.Labels, fn func() float64) prometheus.GaugeFunc {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        mc.serviceName + "_" + name,
			Help:        help,
			ConstLabels: constLabels,
		},
		fn,
	)
	key := name
	for k, v := range constLabels {
		key += "," + k + "=" + v
	}
	mc.RegisterCustomMetric(key, gauge)
	return gauge
}

// NewHistogram creates a new histogram metric for the service
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    mc.serviceName + "_" + name,
			Help:    help,
			Buckets: buckets,
		},
		labels,
	)
	mc.RegisterCustomMetric(name, histogram)
	return histogram
}

// Common service metrics creators

// CreateSelectionMetrics creates the placement counters
func (mc *MetricsCollector) CreateSelectionMetrics() (
	*prometheus.CounterVec, // selections_total
	*prometheus.CounterVec, // node_resolutions_total
	*prometheus.CounterVec, // target_resolutions_total
) {
	selections := mc.NewCounter("selections_total", "Node selections by outcome", []string{"outcome"})
	nodes := mc.NewCounter("node_resolutions_total", "Node location resolutions by source", []string{"source"})
	targets := mc.NewCounter("target_resolutions_total", "Target location resolutions by source", []string{"source"})

	return selections, nodes, targets
}

// CreateLookupMetrics creates the external geolocation lookup metrics
func (mc *MetricsCollector) CreateLookupMetrics() (
	*prometheus.CounterVec, // provider_attempts_total
	*prometheus.CounterVec, // lookup_cache_events_total
) {
	attempts := mc.NewCounter("provider_attempts_total", "Geolocation provider attempts", []string{"provider", "status"})
	cacheEvents := mc.NewCounter("lookup_cache_events_total", "Lookup negative-cache events", []string{"event"})

	return attempts, cacheEvents
}

// CreateRefreshMetrics creates the refresh job metrics
func (mc *MetricsCollector) CreateRefreshMetrics() (
	prometheus.Counter, // refresh_passes_total
	prometheus.Observer, // refresh_pass_duration_seconds
) {
	passes := mc.NewCounter("refresh_passes_total", "Completed node refresh passes", nil)
	duration := mc.NewHistogram("refresh_pass_duration_seconds", "Node refresh pass duration", nil, nil)

	return passes.WithLabelValues(), duration.WithLabelValues()
}

// CreateCircuitBreakerMetrics creates circuit breaker state metrics
func (mc *MetricsCollector) CreateCircuitBreakerMetrics() (
	*prometheus.GaugeVec, // circuit_breaker_state
	*prometheus.CounterVec, // circuit_breaker_state_transitions_total
) {
	state := mc.NewGauge("circuit_breaker_state", "Current state of circuit breaker (0=closed, 1=half-open, 2=open)", []string{"name"})
	transitions := mc.NewCounter("circuit_breaker_state_transitions_total", "Total number of circuit breaker state transitions", []string{"name", "from", "to"})

	return state, transitions
}
