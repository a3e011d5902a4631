// Package geolookup resolves hosts to coordinates through an ordered chain of
// geolocation providers. Every failure is absorbed here: callers only ever see
// a coordinate or "unresolved".
package geolookup

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/sextant/internal/geo"
	"frameworks/sextant/pkg/cache"
	"frameworks/sextant/pkg/clients"
	"frameworks/sextant/pkg/logging"
)

const (
	// DefaultTimeout bounds each provider attempt.
	DefaultTimeout = 4500 * time.Millisecond
	// DefaultNegativeTTL is how long a host that no provider could place is
	// left alone before it is queried again.
	DefaultNegativeTTL = 30 * time.Second
)

// Metrics holds optional Prometheus metrics for provider traffic.
type Metrics struct {
	// ProviderAttempts counts attempts per provider.
	// Labels: provider, status (ok|http_error|timeout|canceled|malformed|no_data|breaker_open|unsupported|error)
	ProviderAttempts *prometheus.CounterVec
	// LookupCache counts lookup cache events.
	// Labels: event (hit|miss|store)
	LookupCache *prometheus.CounterVec
}

// Config configures a Client.
type Config struct {
	// Providers are tried in order; the first well-formed answer wins.
	Providers []Provider
	// Timeout bounds each attempt independently. Default 4.5s.
	Timeout time.Duration
	// NegativeTTL remembers hosts nobody could place. Zero uses the default,
	// a negative value disables it.
	NegativeTTL time.Duration
	// Breaker is the template for the per-provider circuit breakers. Nil uses
	// clients.DefaultCircuitBreakerConfig.
	Breaker *clients.CircuitBreakerConfig

	Logger  logging.Logger
	Debug   bool
	Metrics *Metrics
}

type attempt struct {
	provider Provider
	breaker  *clients.CircuitBreaker
}

// Client queries providers sequentially with per-attempt timeouts.
type Client struct {
	chain   []attempt
	timeout time.Duration
	cache   *cache.Cache[geo.Coordinate]
	logger  logging.Logger
	debug   bool
	metrics *Metrics
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	negativeTTL := cfg.NegativeTTL
	if negativeTTL == 0 {
		negativeTTL = DefaultNegativeTTL
	}
	if negativeTTL < 0 {
		negativeTTL = 0
	}
	logger := logging.OrDiscard(cfg.Logger)

	c := &Client{
		timeout: timeout,
		logger:  logger,
		debug:   cfg.Debug,
		metrics: cfg.Metrics,
	}

	for _, p := range cfg.Providers {
		bc := clients.DefaultCircuitBreakerConfig()
		if cfg.Breaker != nil {
			bc = *cfg.Breaker
		}
		bc.Name = "geolookup-" + p.Name()
		bc.Logger = logger
		c.chain = append(c.chain, attempt{provider: p, breaker: clients.NewCircuitBreaker(bc)})
	}

	c.cache = cache.New[geo.Coordinate](cache.Options{NegativeTTL: negativeTTL, MaxEntries: 4096}, cache.MetricsHooks{
		OnHit:   c.cacheEvent("hit"),
		OnMiss:  c.cacheEvent("miss"),
		OnStore: c.cacheEvent("store"),
	})
	return c
}

// NewDefault builds a client over the two public HTTP providers.
func NewDefault(cfg Config) *Client {
	httpClient := clients.NewHTTPClient()
	cfg.Providers = []Provider{
		NewIPAPIProvider("", httpClient),
		NewIPWhoisProvider("", httpClient),
	}
	return New(cfg)
}

// Breakers returns the per-provider circuit breakers in chain order.
func (c *Client) Breakers() []*clients.CircuitBreaker {
	out := make([]*clients.CircuitBreaker, len(c.chain))
	for i, a := range c.chain {
		out[i] = a.breaker
	}
	return out
}

// Forget drops remembered lookup failures so the next lookup of any host
// queries the providers again.
func (c *Client) Forget() {
	c.cache.Purge()
}

// FailedHosts lists hosts whose last lookup failed and is still remembered,
// oldest first.
func (c *Client) FailedHosts() []string {
	now := time.Now()
	var out []string
	for _, e := range c.cache.Snapshot() {
		if e.ExpiresAt.After(now) {
			out = append(out, e.Key)
		}
	}
	return out
}

func (c *Client) cacheEvent(event string) func(map[string]string) {
	return func(map[string]string) {
		if c.metrics != nil && c.metrics.LookupCache != nil {
			c.metrics.LookupCache.WithLabelValues(event).Inc()
		}
	}
}

// Lookup locates host. Ports and URL schemes are stripped first. It never
// returns an error: any provider failure falls through to the next provider,
// and a fully failed chain reports false.
func (c *Client) Lookup(ctx context.Context, host string) (geo.Coordinate, bool) {
	host = HostOnly(host)
	if host == "" {
		return geo.Coordinate{}, false
	}
	return c.lookup(ctx, host, host)
}

// LookupSelf locates the machine running this process, as seen by the providers.
// Failures are not remembered: every call queries the chain until one succeeds.
func (c *Client) LookupSelf(ctx context.Context) (geo.Coordinate, bool) {
	coord, ok, _ := c.runChain(ctx, "")
	return coord, ok
}

func (c *Client) lookup(ctx context.Context, key, host string) (geo.Coordinate, bool) {
	coord, ok, _ := c.cache.Get(ctx, key, func(ctx context.Context, _ string) (geo.Coordinate, bool, error) {
		return c.runChain(ctx, host)
	})
	return coord, ok
}

func (c *Client) runChain(ctx context.Context, host string) (geo.Coordinate, bool, error) {
	var lastErr error
	for _, a := range c.chain {
		coord, err := c.try(ctx, a, host)
		if err == nil {
			c.count(a.provider.Name(), "ok")
			if c.debug {
				c.logger.WithFields(logging.Fields{
					"host":     displayHost(host),
					"provider": a.provider.Name(),
				}).Debug("Geolocation resolved")
			}
			return coord, true, nil
		}

		status := classify(err)
		c.count(a.provider.Name(), status)
		if c.debug && status != "unsupported" {
			c.logger.WithFields(logging.Fields{
				"host":     displayHost(host),
				"provider": a.provider.Name(),
				"status":   status,
				"error":    err.Error(),
			}).Debug("Geolocation provider failed, falling through")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ErrNoData
	}
	return geo.Coordinate{}, false, lastErr
}

// try runs one provider attempt under its own timeout. Only transport-level
// failures count against the provider's breaker; a well-formed "don't know"
// answer does not.
func (c *Client) try(ctx context.Context, a attempt, host string) (geo.Coordinate, error) {
	var coord geo.Coordinate
	var locateErr error

	err := a.breaker.Call(func() error {
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		coord, locateErr = a.provider.Locate(actx, host)
		// A caller giving up is not the provider's fault.
		if locateErr != nil && ctx.Err() == nil && isTransportFailure(locateErr) {
			return locateErr
		}
		return nil
	})
	if err != nil {
		return geo.Coordinate{}, err
	}
	return coord, locateErr
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrNoData) || errors.Is(err, ErrUnsupported) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	return true
}

func classify(err error) string {
	var se *StatusError
	switch {
	case clients.IsBreakerOpen(err):
		return "breaker_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.As(err, &se):
		return "http_error"
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "timeout"
		}
		return "error"
	}
}

func (c *Client) count(provider, status string) {
	if c.metrics == nil || c.metrics.ProviderAttempts == nil {
		return
	}
	c.metrics.ProviderAttempts.WithLabelValues(provider, status).Inc()
}

func displayHost(host string) string {
	if host == "" {
		return "self"
	}
	return host
}

// HostOnly strips a URL scheme, path and port from a node address:
// "wss://node.example.com:2333/v4" -> "node.example.com".
func HostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil {
			return u.Hostname()
		}
	}
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return strings.Trim(addr, "[]")
}
