package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/service"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedSync struct {
	lastSync, lastHeartbeat time.Time
}

func (f fixedSync) LastSync() time.Time      { return f.lastSync }
func (f fixedSync) LastHeartbeat() time.Time { return f.lastHeartbeat }

func TestHealthChecker_Healthy(t *testing.T) {
	t.Parallel()

	store := memory.NewPolicyStore(
		policy.Policy{ID: "a", Active: true},
		policy.Policy{ID: "b", Active: false},
	)
	reporter := service.NewAuditReporter(memory.NewAuditSink(nil), "agent", discardLogger())
	synced := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hc := NewHealthChecker(store, reporter, fixedSync{lastSync: synced}, "test-version")
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if got := health.Checks["policy_cache"]; got != "ok: 2 policies, 1 active" {
		t.Errorf("policy_cache = %q", got)
	}
	if got := health.Checks["audit"]; got != "ok: 0/10000 (0%)" {
		t.Errorf("audit = %q", got)
	}
	if got := health.Checks["last_sync"]; got != "2026-03-01T12:00:00Z" {
		t.Errorf("last_sync = %q", got)
	}
	if got := health.Checks["last_heartbeat"]; got != "never" {
		t.Errorf("last_heartbeat = %q, want never", got)
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker(nil, nil, nil, "")
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["policy_cache"] != "not configured" {
		t.Errorf("policy_cache = %q, want 'not configured'", health.Checks["policy_cache"])
	}
	if health.Checks["audit"] != "not configured" {
		t.Errorf("audit = %q, want 'not configured'", health.Checks["audit"])
	}
	if health.Checks["last_sync"] != "standalone" {
		t.Errorf("last_sync = %q, want standalone", health.Checks["last_sync"])
	}
	if health.Checks["goroutines"] == "" || health.Checks["goroutines"] == "0" {
		t.Errorf("goroutines = %q, want a positive count", health.Checks["goroutines"])
	}
}

func TestHealthChecker_DecisionTotals(t *testing.T) {
	t.Parallel()

	stats := service.NewDecisionStats()
	stats.Record(policy.KindProcess, policy.Decision{ShouldBlock: true})
	stats.Record(policy.KindURL, policy.Decision{})
	stats.RecordEvalError()

	hc := NewHealthChecker(nil, nil, nil, "", WithDecisionTotals(stats))
	if got, want := hc.Check().Checks["decisions"], "1 allowed, 1 blocked, 1 errors"; got != want {
		t.Errorf("decisions = %q, want %q", got, want)
	}
	if _, ok := NewHealthChecker(nil, nil, nil, "").Check().Checks["decisions"]; ok {
		t.Error("decisions check present without a counter")
	}
}

type staticBlocklist []string

func (b staticBlocklist) BlockedDomains() []string { return b }

func TestHealthChecker_Blocklist(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker(nil, nil, nil, "", WithBlocklist(staticBlocklist{"evil.com", "bad.org"}))
	if got := hc.Check().Checks["url_blocklist"]; got != "2 domains" {
		t.Errorf("url_blocklist = %q, want %q", got, "2 domains")
	}
}

func TestHealthChecker_Unhealthy_AuditFull(t *testing.T) {
	t.Parallel()

	reporter := service.NewAuditReporter(memory.NewAuditSink(nil), "agent", discardLogger(),
		service.WithQueueCapacity(10),
	)
	// One more than capacity also drops the oldest entry.
	for i := 0; i < 11; i++ {
		reporter.RecordEvent(audit.EventError, "test")
	}

	hc := NewHealthChecker(nil, reporter, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Response status = %q, want unhealthy", resp.Status)
	}
	if resp.Checks["audit_drops"] != "1 dropped" {
		t.Errorf("audit_drops = %q, want '1 dropped'", resp.Checks["audit_drops"])
	}
}
