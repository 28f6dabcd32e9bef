package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(url string, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(url),
		WithAPIKey("agent-key"),
		WithAgentID("agent-1"),
		WithLogger(testLogger()),
	}
	return NewClient(append(base, opts...)...)
}

func TestFetchPolicies(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/agent-1/policies" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("X-API-Key"); got != "agent-key" {
			t.Errorf("unexpected api key header: %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]policyDTO{{
			PolicyID:  "p-1",
			Name:      "Allow editors",
			Mode:      0,
			IsActive:  true,
			Priority:  100,
			UpdatedAt: updated,
			Rules: []ruleDTO{
				{RuleID: "r-1", RuleType: 4, Criteria: "notepad.exe", Action: 0, Description: "notepad"},
				{RuleID: "r-2", RuleType: 6, Criteria: "evil.example.com", Action: 1},
			},
		}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	policies, err := client.FetchPolicies(context.Background())
	if err != nil {
		t.Fatalf("FetchPolicies() error = %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.ID != "p-1" || p.Mode != policy.ModeWhitelist || !p.Active || p.Priority != 100 {
		t.Errorf("unexpected policy: %+v", p)
	}
	if !p.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt, updated)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(p.Rules))
	}
	if p.Rules[0].Type != policy.RuleFileName || p.Rules[0].Action != policy.ActionAllow {
		t.Errorf("unexpected rule 0: %+v", p.Rules[0])
	}
	if p.Rules[1].Type != policy.RuleDomain || p.Rules[1].Action != policy.ActionBlock {
		t.Errorf("unexpected rule 1: %+v", p.Rules[1])
	}
}

func TestSubmitAuditLogs(t *testing.T) {
	var received []auditLogDTO

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/agent-1/audit-logs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(auditSubmitResponseDTO{SubmittedCount: len(received)})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	n, err := client.SubmitAuditLogs(context.Background(), []audit.Entry{
		{ID: "e-1", AgentID: "agent-1", Type: audit.EventInstallationBlocked, Blocked: true, PolicyID: "p-1", RuleID: "r-1"},
		{ID: "e-2", AgentID: "agent-1", Type: audit.EventAgentStarted},
	})
	if err != nil {
		t.Fatalf("SubmitAuditLogs() error = %v", err)
	}
	if n != 2 {
		t.Errorf("accepted = %d, want 2", n)
	}
	if len(received) != 2 {
		t.Fatalf("server received %d entries, want 2", len(received))
	}
	if received[0].EventType != 1 || received[0].PolicyID == nil || *received[0].PolicyID != "p-1" {
		t.Errorf("unexpected first entry: %+v", received[0])
	}
	if received[1].PolicyID != nil {
		t.Errorf("empty policy id should be sent as null, got %q", *received[1].PolicyID)
	}
}

func TestHeartbeat(t *testing.T) {
	t.Run("drift answer", func(t *testing.T) {
		last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var hb heartbeatDTO
			if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if hb.AgentID != "agent-1" || hb.BlockedEventsLast24h != 3 {
				t.Errorf("unexpected heartbeat: %+v", hb)
			}
			json.NewEncoder(w).Encode(heartbeatResponseDTO{PoliciesChanged: true, LastPolicyUpdate: &last})
		}))
		defer server.Close()

		res, err := newTestClient(server.URL).Heartbeat(context.Background(), outbound.Heartbeat{
			Status:               outbound.StatusOnline,
			BlockedEventsLast24h: 3,
			Timestamp:            time.Now(),
		})
		if err != nil {
			t.Fatalf("Heartbeat() error = %v", err)
		}
		if !res.PoliciesChanged || res.LastPolicyUpdate == nil || !res.LastPolicyUpdate.Equal(last) {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		res, err := newTestClient(server.URL).Heartbeat(context.Background(), outbound.Heartbeat{})
		if err != nil {
			t.Fatalf("Heartbeat() error = %v", err)
		}
		if res.PoliciesChanged {
			t.Error("expected no change for empty body")
		}
	})
}

func TestRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reg registrationDTO
			json.NewDecoder(r.Body).Decode(&reg)
			if reg.TenantAPIKey != "tenant-key" {
				t.Errorf("unexpected tenant key: %q", reg.TenantAPIKey)
			}
			json.NewEncoder(w).Encode(registrationResponseDTO{AgentID: "new-agent", APIKey: "k", Success: true})
		}))
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL), WithLogger(testLogger()))
		res, err := client.Register(context.Background(), outbound.Registration{TenantID: "t", TenantAPIKey: "tenant-key"})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if res.AgentID != "new-agent" || res.APIKey != "k" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("rejected fails closed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(registrationResponseDTO{Success: false, Message: "invalid tenant key"})
		}))
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL), WithLogger(testLogger()))
		res, err := client.Register(context.Background(), outbound.Registration{TenantID: "t", TenantAPIKey: "bad"})
		if !errors.Is(err, ErrRegistrationRejected) {
			t.Fatalf("expected ErrRegistrationRejected, got %v", err)
		}
		if res.Message != "invalid tenant key" {
			t.Errorf("Message = %q", res.Message)
		}
	})
}

func TestAccessRequests(t *testing.T) {
	expires := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/access-requests", func(w http.ResponseWriter, r *http.Request) {
		var req createAccessRequestDTO
		json.NewDecoder(r.Body).Decode(&req)
		if req.AgentID != "agent-1" || req.ResourceType != "Executable" || req.Justification != "need it" {
			t.Errorf("unexpected create request: %+v", req)
		}
		json.NewEncoder(w).Encode(accessRequestDTO{RequestID: "req-1", ResourceType: req.ResourceType, ResourceIdentifier: req.ResourceIdentifier})
	})
	mux.HandleFunc("/access-requests/check-approval", func(w http.ResponseWriter, r *http.Request) {
		id := "appr-1"
		json.NewEncoder(w).Encode(approvalResponseDTO{IsApproved: true, ApprovalID: &id, ExpiresAt: &expires})
	})
	mux.HandleFunc("/access-requests/agent/agent-1/pending", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]accessRequestDTO{{RequestID: "req-2", Status: 0}})
	})
	mux.HandleFunc("/access-requests/id/req-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(accessRequestDTO{RequestID: "req-3", Status: 2, ReviewComments: "not allowed"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()
	res := access.Resource{Type: access.ResourceExecutable, Identifier: `C:\tools\x.exe`, Name: "x.exe"}

	created, err := client.CreateAccessRequest(ctx, access.Request{Resource: res, Justification: "need it"})
	if err != nil {
		t.Fatalf("CreateAccessRequest() error = %v", err)
	}
	if created.ID != "req-1" {
		t.Errorf("created.ID = %q", created.ID)
	}

	approval, err := client.CheckApproval(ctx, res)
	if err != nil {
		t.Fatalf("CheckApproval() error = %v", err)
	}
	if !approval.Approved || approval.ID != "appr-1" || approval.ExpiresAt == nil || !approval.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected approval: %+v", approval)
	}

	pending, err := client.PendingRequests(ctx)
	if err != nil {
		t.Fatalf("PendingRequests() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "req-2" || pending[0].Status != access.StatusPending {
		t.Errorf("unexpected pending: %+v", pending)
	}

	denied, err := client.GetAccessRequest(ctx, "req-3")
	if err != nil {
		t.Fatalf("GetAccessRequest() error = %v", err)
	}
	if denied.Status != access.StatusDenied || denied.Comments != "not allowed" {
		t.Errorf("unexpected request: %+v", denied)
	}
}

func TestHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchPolicies(context.Background())
	var remoteErr *Error
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if remoteErr.Code != "HTTP_503" || !remoteErr.Transient() {
		t.Errorf("unexpected error: %+v", remoteErr)
	}
	if IsConnectionError(err) {
		t.Error("HTTP errors are not connection errors")
	}
}

func TestConnectionError(t *testing.T) {
	// Grab a free port and close it so the connection is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = newTestClient("http://"+addr, WithTimeout(time.Second)).FetchPolicies(context.Background())
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !errors.Is(err, ErrRemoteUnreachable) {
		t.Error("expected errors.Is(err, ErrRemoteUnreachable)")
	}
}

func TestNoAgentID(t *testing.T) {
	client := NewClient(WithBaseURL("http://127.0.0.1:1"), WithLogger(testLogger()))
	if _, err := client.FetchPolicies(context.Background()); !errors.Is(err, ErrNoAgentID) {
		t.Errorf("expected ErrNoAgentID, got %v", err)
	}
}
