package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// AuditQueue exposes the audit queue occupancy.
type AuditQueue interface {
	Len() int
	Capacity() int
	Dropped() int64
}

// SyncStatus exposes when the agent last talked to the management service.
type SyncStatus interface {
	LastSync() time.Time
	LastHeartbeat() time.Time
}

// DecisionTotals exposes enforcement counts since start.
type DecisionTotals interface {
	Totals() (allowed, blocked, evalErrors int64)
}

// Blocklist exposes the URL blocklist currently applied.
type Blocklist interface {
	BlockedDomains() []string
}

// HealthChecker verifies component health.
type HealthChecker struct {
	policies  policy.Reader
	audit     AuditQueue
	sync      SyncStatus
	decisions DecisionTotals
	blocklist Blocklist
	version   string
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithDecisionTotals reports decision counts under the "decisions" check.
func WithDecisionTotals(d DecisionTotals) HealthOption {
	return func(h *HealthChecker) {
		h.decisions = d
	}
}

// WithBlocklist reports the applied URL blocklist under "url_blocklist".
func WithBlocklist(b Blocklist) HealthOption {
	return func(h *HealthChecker) {
		h.blocklist = b
	}
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(policies policy.Reader, audit AuditQueue, sync SyncStatus, version string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		policies: policies,
		audit:    audit,
		sync:     sync,
		version:  version,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.policies != nil {
		all := h.policies.All()
		active := 0
		for _, p := range all {
			if p.Active {
				active++
			}
		}
		checks["policy_cache"] = fmt.Sprintf("ok: %d policies, %d active", len(all), active)
	} else {
		checks["policy_cache"] = "not configured"
	}

	if h.audit != nil {
		depth := h.audit.Len()
		capacity := h.audit.Capacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// Delivery is falling behind; the oldest entries are about to be dropped.
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.audit.Dropped(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	if h.sync != nil {
		checks["last_sync"] = formatTime(h.sync.LastSync())
		checks["last_heartbeat"] = formatTime(h.sync.LastHeartbeat())
	} else {
		checks["last_sync"] = "standalone"
	}

	if h.decisions != nil {
		allowed, blocked, evalErrors := h.decisions.Totals()
		checks["decisions"] = fmt.Sprintf("%d allowed, %d blocked, %d errors", allowed, blocked, evalErrors)
	}

	if h.blocklist != nil {
		checks["url_blocklist"] = fmt.Sprintf("%d domains", len(h.blocklist.BlockedDomains()))
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
