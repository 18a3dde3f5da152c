package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/cardmail/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is a store that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthComponents lists what the health endpoint inspects. Any field may be
// left empty; it is then reported as not configured.
type HealthComponents struct {
	Store     Pinger
	StoreKind string // "postgres" or "memory"
	Redis     *redis.Client
	Transport string
	Scheduler SweepScheduler
	ArchiveOn bool
	WebhookOn bool
	VerifyOn  bool
}

// HealthChecker runs the component checks.
type HealthChecker struct {
	c         HealthComponents
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(c HealthComponents) *HealthChecker {
	return &HealthChecker{c: c, startTime: time.Now()}
}

const healthVersion = "1.0.0"

// HandleHealth returns the health of all components. It always answers 200;
// the status field carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  time.Since(hc.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}

// HandleReadiness answers 503 when the store is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, 6)

	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 2)
	go func() { ch <- result{"database", hc.checkStore(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	for i := 0; i < 2; i++ {
		r := <-ch
		checks[r.name] = r.check
	}

	checks["email_service"] = configured(hc.c.Transport != "", hc.c.Transport)
	checks["webhook_handler"] = configured(hc.c.WebhookOn, "signature verification "+onOff(hc.c.VerifyOn))
	checks["archive"] = configured(hc.c.ArchiveOn, "s3")
	switch {
	case hc.c.Scheduler == nil:
		checks["followup_scheduler"] = ComponentCheck{Status: "down", Message: "not configured"}
	case hc.c.Scheduler.IsRunning():
		checks["followup_scheduler"] = ComponentCheck{Status: "up", Message: "running"}
	default:
		// disabled by config; manual runs still work
		checks["followup_scheduler"] = ComponentCheck{Status: "up", Message: "stopped"}
	}
	return checks
}

// checkStore pings the tracking store with a 3-second timeout.
func (hc *HealthChecker) checkStore(ctx context.Context) ComponentCheck {
	if hc.c.Store == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.c.Store.Ping(pingCtx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	if latency > time.Second {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: hc.c.StoreKind}
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.c.Redis == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.c.Redis.Ping(pingCtx).Err()
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	if latency > 500*time.Millisecond {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

func configured(ok bool, msg string) ComponentCheck {
	if !ok {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	return ComponentCheck{Status: "up", Message: msg}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if the database is configured and down
//   - "degraded"  if any check is degraded or a configured check is down
//   - "healthy"   otherwise
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}
	return "healthy"
}
