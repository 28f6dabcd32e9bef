// Package remote implements the HTTP client for the management service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

const tracerName = "github.com/Sentinel-Gate/sentinel-agent/remote"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Client talks to the management service over HTTP/JSON.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	agentID    string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the service base URL, e.g. "https://mgmt.example.com/api".
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithAgentID sets the agent identity used in agent-scoped paths.
func WithAgentID(id string) Option {
	return func(c *Client) {
		c.agentID = id
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. The timeout option is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a management service client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout: 30 * time.Second,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	meter := otel.Meter(tracerName)
	var err error
	c.requests, err = meter.Int64Counter("sentinelagent.remote.requests",
		metric.WithDescription("Management service requests by operation and outcome"))
	if err != nil {
		c.requests = noop.Int64Counter{}
	}
	c.latency, err = meter.Float64Histogram("sentinelagent.remote.duration",
		metric.WithDescription("Management service request latency"),
		metric.WithUnit("s"))
	if err != nil {
		c.latency = noop.Float64Histogram{}
	}

	return c
}

// AgentID returns the configured agent identity.
func (c *Client) AgentID() string {
	return c.agentID
}

// Register enrolls the agent. An unsuccessful answer is returned as an
// error wrapping ErrRegistrationRejected so callers cannot proceed with a
// fabricated identity.
func (c *Client) Register(ctx context.Context, reg outbound.Registration) (outbound.RegistrationResult, error) {
	body := registrationDTO{
		MachineName:     reg.MachineName,
		OperatingSystem: reg.OperatingSystem,
		AgentVersion:    reg.AgentVersion,
		TenantID:        reg.TenantID,
		TenantAPIKey:    reg.TenantAPIKey,
	}

	var resp registrationResponseDTO
	err := c.doRequest(ctx, "register", http.MethodPost, "/agents/register", body, &resp)

	// The service answers 400 with a populated body on rejection.
	var remoteErr *Error
	if errors.As(err, &remoteErr) && remoteErr.Status == http.StatusBadRequest && resp.Message != "" {
		err = nil
	}
	if err != nil {
		return outbound.RegistrationResult{}, err
	}

	result := outbound.RegistrationResult{
		AgentID: resp.AgentID,
		APIKey:  resp.APIKey,
		Success: resp.Success,
		Message: resp.Message,
	}
	if !resp.Success || resp.AgentID == "" {
		return result, fmt.Errorf("%w: %s", ErrRegistrationRejected, resp.Message)
	}
	return result, nil
}

// FetchPolicies returns the policies assigned to this agent.
func (c *Client) FetchPolicies(ctx context.Context) ([]policy.Policy, error) {
	path, err := c.agentPath("policies")
	if err != nil {
		return nil, err
	}

	var dtos []policyDTO
	if err := c.doRequest(ctx, "fetch_policies", http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	policies := make([]policy.Policy, 0, len(dtos))
	for _, d := range dtos {
		policies = append(policies, toPolicy(d))
	}
	return policies, nil
}

// Heartbeat reports liveness and returns the drift answer.
// An empty response body is treated as "no change".
func (c *Client) Heartbeat(ctx context.Context, hb outbound.Heartbeat) (outbound.HeartbeatResult, error) {
	path, err := c.agentPath("heartbeat")
	if err != nil {
		return outbound.HeartbeatResult{}, err
	}

	var resp heartbeatResponseDTO
	if err := c.doRequest(ctx, "heartbeat", http.MethodPost, path, toHeartbeat(c.agentID, hb), &resp); err != nil {
		return outbound.HeartbeatResult{}, err
	}
	return toHeartbeatResult(resp), nil
}

// SubmitAuditLogs delivers a batch and returns the accepted count.
func (c *Client) SubmitAuditLogs(ctx context.Context, entries []audit.Entry) (int, error) {
	path, err := c.agentPath("audit-logs")
	if err != nil {
		return 0, err
	}

	logs := make([]auditLogDTO, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, toAuditLog(e))
	}

	var resp auditSubmitResponseDTO
	if err := c.doRequest(ctx, "submit_audit_logs", http.MethodPost, path, logs, &resp); err != nil {
		return 0, err
	}
	return resp.SubmittedCount, nil
}

// Submit implements audit.Sink.
func (c *Client) Submit(ctx context.Context, entries []audit.Entry) error {
	_, err := c.SubmitAuditLogs(ctx, entries)
	return err
}

// CreateAccessRequest submits a user's access request.
func (c *Client) CreateAccessRequest(ctx context.Context, req access.Request) (access.Request, error) {
	if c.agentID == "" {
		return access.Request{}, ErrNoAgentID
	}

	var resp accessRequestDTO
	if err := c.doRequest(ctx, "create_access_request", http.MethodPost, "/access-requests", toCreateAccessRequest(c.agentID, req), &resp); err != nil {
		return access.Request{}, err
	}
	return toAccessRequest(resp), nil
}

// CheckApproval asks whether an active approval exists for the resource.
func (c *Client) CheckApproval(ctx context.Context, res access.Resource) (access.Approval, error) {
	if c.agentID == "" {
		return access.Approval{}, ErrNoAgentID
	}

	body := approvalCheckDTO{
		AgentID:            c.agentID,
		ResourceType:       string(res.Type),
		ResourceIdentifier: res.Identifier,
	}
	var resp approvalResponseDTO
	if err := c.doRequest(ctx, "check_approval", http.MethodPost, "/access-requests/check-approval", body, &resp); err != nil {
		return access.Approval{}, err
	}
	return toApproval(resp), nil
}

// PendingRequests lists this agent's requests still awaiting review.
func (c *Client) PendingRequests(ctx context.Context) ([]access.Request, error) {
	if c.agentID == "" {
		return nil, ErrNoAgentID
	}

	var dtos []accessRequestDTO
	path := "/access-requests/agent/" + url.PathEscape(c.agentID) + "/pending"
	if err := c.doRequest(ctx, "pending_requests", http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	out := make([]access.Request, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, toAccessRequest(d))
	}
	return out, nil
}

// GetAccessRequest fetches a single request by ID.
func (c *Client) GetAccessRequest(ctx context.Context, id string) (access.Request, error) {
	var resp accessRequestDTO
	if err := c.doRequest(ctx, "get_access_request", http.MethodGet, "/access-requests/id/"+url.PathEscape(id), nil, &resp); err != nil {
		return access.Request{}, err
	}
	return toAccessRequest(resp), nil
}

func (c *Client) agentPath(suffix string) (string, error) {
	if c.agentID == "" {
		return "", ErrNoAgentID
	}
	return "/agents/" + url.PathEscape(c.agentID) + "/" + suffix, nil
}

// doRequest performs an HTTP request against the management service.
// For non-2xx responses the body is still decoded into result when it
// is JSON, so callers can read service-provided messages.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body any, result any) (err error) {
	ctx, span := c.tracer.Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		attrs := metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		)
		c.requests.Add(ctx, 1, attrs)
		c.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		span.End()
	}()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &UnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return &UnreachableError{Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if unmarshalErr := json.Unmarshal(respBody, result); unmarshalErr != nil && httpResp.StatusCode < 300 {
			return fmt.Errorf("failed to unmarshal response: %w", unmarshalErr)
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.logger.Debug("management service returned error",
			"op", op,
			"status", httpResp.StatusCode,
		)
		return &Error{
			Code:   fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			Status: httpResp.StatusCode,
			Err:    fmt.Errorf("server returned %d: %s", httpResp.StatusCode, truncate(string(respBody), 512)),
		}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ outbound.RemoteGateway = (*Client)(nil)
