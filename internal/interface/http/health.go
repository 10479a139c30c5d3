package http

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	// Healthy is false when any check failed.
	Healthy bool `json:"healthy"`

	// Ready is false only when a critical check failed. A failing optional
	// dependency such as the Redis cache degrades the engine but does not
	// stop it serving.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message"`
	Duration string `json:"duration"`
}

type healthCheck struct {
	pinger   Pinger
	critical bool
}

// Health runs named dependency checks concurrently, each under its own timeout.
type Health struct {
	mu      sync.RWMutex
	checks  map[string]healthCheck
	started time.Time
	version string
	timeout time.Duration
}

// NewHealth creates an empty checker. timeout bounds each check; zero means
// five seconds.
func NewHealth(version string, timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Health{
		checks:  make(map[string]healthCheck),
		started: time.Now(),
		version: version,
		timeout: timeout,
	}
}

// AddCheck registers p under name. A failing critical check makes the engine
// not ready.
func (h *Health) AddCheck(name string, p Pinger, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = healthCheck{pinger: p, critical: critical}
}

// Check runs every registered check.
func (h *Health) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]healthCheck, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, c := range checks {
		wg.Add(1)
		go func(name string, c healthCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := c.pinger.Ping(checkCtx)
			res := CheckResult{
				Healthy:  err == nil,
				Critical: c.critical,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	var failed []string
	for name, res := range status.Checks {
		if res.Healthy {
			continue
		}
		failed = append(failed, name)
		status.Healthy = false
		if res.Critical {
			status.Ready = false
		}
	}
	sort.Strings(failed)

	switch {
	case len(checks) == 0:
		status.Message = "No health checks registered"
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}
