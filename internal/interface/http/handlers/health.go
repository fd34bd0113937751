package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports the state of the process and its dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency; a non-nil error marks it down.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health.
type HealthStatus struct {
	Healthy bool `json:"healthy"`
	Ready   bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker checks every registered dependency concurrently,
// each under its own timeout. Checks never cancel each other.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheckFunc
	started time.Time
	version string
	timeout time.Duration
	now     func() time.Time
}

// NewCompositeHealthChecker returns a checker with no checks; it reports
// healthy until one is added.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:  make(map[string]HealthCheckFunc),
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// SetTimeout bounds each check.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// AddCheck registers or replaces the check called name.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// Check runs all checks and aggregates them.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	timeout := c.timeout
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	for name, fn := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := c.now()
			err := fn(checkCtx)
			res := CheckResult{Healthy: err == nil, Message: "ok", Duration: c.now().Sub(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Message = err.Error()
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return c.aggregate(results)
}

func (c *CompositeHealthChecker) aggregate(results map[string]CheckResult) HealthStatus {
	var down []string
	for name, r := range results {
		if !r.Healthy {
			down = append(down, name)
		}
	}
	sort.Strings(down)

	status := HealthStatus{
		Healthy:   len(down) == 0,
		Ready:     len(down) == 0,
		Checks:    results,
		Uptime:    c.now().Sub(c.started).Round(time.Second).String(),
		Timestamp: c.now().UTC(),
		Version:   c.version,
	}
	switch {
	case len(results) == 0:
		status.Message = "no dependencies registered"
	case len(down) == 0:
		status.Message = "all dependencies up"
	default:
		status.Message = "dependencies down: " + strings.Join(down, ", ")
	}
	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the postgres connection and the redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings a connection.
func PingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// ErrEmptyCatalog is reported while no content is loaded; no plan can be
// composed without it.
var ErrEmptyCatalog = errors.New("content catalog is empty")

// CatalogCheck fails while size reports no items.
func CatalogCheck(size func() int) HealthCheckFunc {
	return func(context.Context) error {
		if size() == 0 {
			return ErrEmptyCatalog
		}
		return nil
	}
}
