// Package outbound defines the outbound port interfaces the agent core
// depends on.
package outbound

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// AgentStatus is reported with every heartbeat.
type AgentStatus int

const (
	StatusOnline AgentStatus = iota
	StatusOffline
	StatusError
	StatusPending
)

// Registration enrolls a new agent with a tenant.
type Registration struct {
	MachineName     string
	OperatingSystem string
	AgentVersion    string
	TenantID        string
	TenantAPIKey    string
}

// RegistrationResult carries the identity assigned by the management service.
type RegistrationResult struct {
	AgentID string
	APIKey  string
	Success bool
	Message string
}

// Heartbeat reports liveness.
type Heartbeat struct {
	Status               AgentStatus
	AgentVersion         string
	Timestamp            time.Time
	BlockedEventsLast24h int
	LastError            string
}

// HeartbeatResult tells the agent whether its policies drifted.
type HeartbeatResult struct {
	PoliciesChanged  bool
	LastPolicyUpdate *time.Time
}

// PolicySource fetches the agent's assigned policy set.
type PolicySource interface {
	FetchPolicies(ctx context.Context) ([]policy.Policy, error)
}

// HeartbeatSender reports liveness.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, hb Heartbeat) (HeartbeatResult, error)
}

// AccessGateway is the access-request surface of the management service.
type AccessGateway interface {
	CreateAccessRequest(ctx context.Context, req access.Request) (access.Request, error)
	CheckApproval(ctx context.Context, res access.Resource) (access.Approval, error)
	PendingRequests(ctx context.Context) ([]access.Request, error)
	GetAccessRequest(ctx context.Context, id string) (access.Request, error)
}

// RemoteGateway is the full contract with the management service.
type RemoteGateway interface {
	PolicySource
	HeartbeatSender
	AccessGateway
	audit.Sink
	Register(ctx context.Context, reg Registration) (RegistrationResult, error)
}
