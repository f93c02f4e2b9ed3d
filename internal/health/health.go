package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/traffic"
)

// Status values reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusIdle         = "idle"
	StatusOverloaded   = "overloaded"
	StatusDegraded     = "degraded"
	StatusShuttingDown = "shutting-down"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the process-wide drain flag. Call when SIGTERM/SIGINT is received.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Config holds thresholds for status evaluation. Zero values disable the matching rule.
type Config struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int

	DegradedWindow   time.Duration
	DegradedErrorPct int

	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration

	StartTime time.Time
}

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Report is the outcome of one evaluation.
type Report struct {
	Status   string
	HTTPCode int
	Reason   string
	Checks   map[string]string
}

// Evaluator computes service status from dependency checks and traffic.
type Evaluator struct {
	cfg     Config
	tracker *traffic.Tracker

	mu     sync.RWMutex
	checks []check
}

// NewEvaluator returns an Evaluator reading outcomes from tracker.
func NewEvaluator(cfg Config, tracker *traffic.Tracker) *Evaluator {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	return &Evaluator{cfg: cfg, tracker: tracker}
}

// AddCheck registers a dependency check. A failing critical check marks the service degraded;
// a failing non-critical check is reported but does not change status.
func (e *Evaluator) AddCheck(name string, critical bool, fn CheckFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks = append(e.checks, check{name: name, critical: critical, fn: fn})
}

// Evaluate runs the checks and applies, in order: shutting-down, critical check failure,
// overload, idle, error-rate degradation, healthy.
func (e *Evaluator) Evaluate(ctx context.Context) Report {
	checks, failedCritical := e.runChecks(ctx)

	if IsShuttingDown() {
		return Report{StatusShuttingDown, http.StatusServiceUnavailable, "signal", checks}
	}
	if failedCritical != "" {
		return Report{StatusDegraded, http.StatusServiceUnavailable, failedCritical + "_unhealthy", checks}
	}
	if e.tracker == nil {
		return Report{StatusHealthy, http.StatusOK, "", checks}
	}

	cfg := e.cfg
	if cfg.OverloadWindow > 0 && cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(e.tracker.RequestCount(cfg.OverloadWindow)) > threshold {
			return Report{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold", checks}
		}
	}
	if cfg.IdleWindow > 0 && cfg.IdleThresholdReqPerMin > 0 && time.Since(cfg.StartTime) >= cfg.MinimumLifespan {
		perMin := float64(e.tracker.RequestCount(cfg.IdleWindow)) / cfg.IdleWindow.Minutes()
		if perMin < float64(cfg.IdleThresholdReqPerMin) {
			return Report{StatusIdle, http.StatusOK, "low_traffic", checks}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := e.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return Report{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach", checks}
		}
	}
	return Report{StatusHealthy, http.StatusOK, "", checks}
}

// runChecks returns per-check results and the first failing critical check by name order.
func (e *Evaluator) runChecks(ctx context.Context) (map[string]string, string) {
	e.mu.RLock()
	checks := append([]check(nil), e.checks...)
	e.mu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	results := make(map[string]string, len(checks))
	failed := ""
	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			results[c.name] = "unhealthy"
			if c.critical && failed == "" {
				failed = c.name
			}
			continue
		}
		results[c.name] = "healthy"
	}
	return results, failed
}
