package monitoring

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"frameworks/sextant/pkg/clients"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthChecker manages and executes health checks
type HealthChecker struct {
	service string
	version string
	mu      sync.RWMutex
	checks  map[string]HealthCheck
}

// HealthCheck is a function that performs a health check
type HealthCheck func() CheckResult

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck adds a health check to the checker
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs all health checks and returns the overall status
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	hc.mu.RLock()
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	anyUnhealthy := false
	anyDegraded := false
	for name, check := range checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		case StatusUnhealthy:
			anyUnhealthy = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}

	return status
}

// Handler returns a middleware handler for the health check endpoint
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// Common Health Check Functions

// GeoCacheHealthCheck reports degraded while nodes are registered but none has
// a known location. Selection still works in that state, falling back to the
// first node.
func GeoCacheHealthCheck(locatedNodes, registeredNodes func() int) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		located, registered := locatedNodes(), registeredNodes()

		if registered > 0 && located == 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("No location known for any of %d nodes", registered),
				Latency: time.Since(start).String(),
			}
		}

		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d/%d nodes located", located, registered),
			Latency: time.Since(start).String(),
		}
	}
}

// CircuitBreakerHealthCheck reports degraded when any breaker is not closed
// and unhealthy when all of them are open.
func CircuitBreakerHealthCheck(breakers ...*clients.CircuitBreaker) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		if len(breakers) == 0 {
			return CheckResult{Status: StatusHealthy, Message: "No circuit breakers", Latency: time.Since(start).String()}
		}

		open := 0
		var notClosed []string
		for _, b := range breakers {
			state := b.State()
			if state == clients.StateOpen {
				open++
			}
			if state != clients.StateClosed {
				notClosed = append(notClosed, b.Name()+"="+state.String())
			}
		}

		switch {
		case open == len(breakers):
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "All circuit breakers open: " + strings.Join(notClosed, ", "),
				Latency: time.Since(start).String(),
			}
		case len(notClosed) > 0:
			return CheckResult{
				Status:  StatusDegraded,
				Message: "Circuit breakers not closed: " + strings.Join(notClosed, ", "),
				Latency: time.Since(start).String(),
			}
		default:
			return CheckResult{
				Status:  StatusHealthy,
				Message: fmt.Sprintf("%d circuit breakers closed", len(breakers)),
				Latency: time.Since(start).String(),
			}
		}
	}
}
