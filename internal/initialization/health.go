package initialization

import (
	"context"
	"time"
)

// Pinger is any dependency that can report reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthChecker checks the gateway's runtime dependencies
type HealthChecker struct {
	required map[string]Pinger
	optional map[string]Pinger
	timeout  time.Duration
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		required: make(map[string]Pinger),
		optional: make(map[string]Pinger),
		timeout:  2 * time.Second,
	}
}

// Require registers a dependency whose failure makes the gateway unhealthy
func (hc *HealthChecker) Require(name string, p Pinger) *HealthChecker {
	hc.required[name] = p
	return hc
}

// Optional registers a dependency whose failure only degrades the gateway
func (hc *HealthChecker) Optional(name string, p Pinger) *HealthChecker {
	hc.optional[name] = p
	return hc
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Overall   bool                   `json:"overall"`
}

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status   string `json:"status"` // "pass", "warn", "fail"
	Message  string `json:"message"`
	Duration string `json:"duration"`
}

// CheckAll performs all health checks
func (hc *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	checks := make(map[string]CheckResult, len(hc.required)+len(hc.optional))
	for name, p := range hc.required {
		checks[name] = hc.check(ctx, p, "fail")
	}
	for name, p := range hc.optional {
		checks[name] = hc.check(ctx, p, "warn")
	}

	overall := true
	status := "healthy"
	for _, check := range checks {
		if check.Status == "fail" {
			overall = false
			status = "unhealthy"
			break
		}
		if check.Status == "warn" {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Overall:   overall,
	}
}

func (hc *HealthChecker) check(ctx context.Context, p Pinger, failStatus string) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := p.PingContext(ctx)
	duration := time.Since(start).String()
	if err != nil {
		return CheckResult{Status: failStatus, Message: err.Error(), Duration: duration}
	}
	return CheckResult{Status: "pass", Message: "reachable", Duration: duration}
}
