package remote

import (
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

func toPolicy(d policyDTO) policy.Policy {
	p := policy.Policy{
		ID:          d.PolicyID,
		Name:        d.Name,
		Description: d.Description,
		Mode:        policy.Mode(d.Mode),
		Active:      d.IsActive,
		Priority:    d.Priority,
		Rules:       make([]policy.Rule, 0, len(d.Rules)),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	for _, r := range d.Rules {
		p.Rules = append(p.Rules, policy.Rule{
			ID:          r.RuleID,
			Type:        policy.RuleType(r.RuleType),
			Criteria:    r.Criteria,
			Action:      policy.Action(r.Action),
			Description: r.Description,
		})
	}
	return p
}

func toAuditLog(e audit.Entry) auditLogDTO {
	return auditLogDTO{
		LogID:       e.ID,
		AgentID:     e.AgentID,
		EventType:   int(e.Type),
		Timestamp:   e.Timestamp.UTC(),
		Blocked:     e.Blocked,
		ProcessName: e.ProcessName,
		ProcessPath: e.ProcessPath,
		FileHash:    e.FileHash,
		Publisher:   e.Publisher,
		UserName:    e.UserName,
		Details:     e.Details,
		PolicyID:    optional(e.PolicyID),
		RuleID:      optional(e.RuleID),
	}
}

func toHeartbeat(agentID string, hb outbound.Heartbeat) heartbeatDTO {
	return heartbeatDTO{
		AgentID:              agentID,
		Status:               int(hb.Status),
		AgentVersion:         hb.AgentVersion,
		Timestamp:            hb.Timestamp.UTC(),
		BlockedEventsLast24h: hb.BlockedEventsLast24h,
		LastError:            hb.LastError,
	}
}

func toCreateAccessRequest(agentID string, r access.Request) createAccessRequestDTO {
	return createAccessRequestDTO{
		AgentID:            agentID,
		ResourceType:       string(r.Resource.Type),
		ResourceIdentifier: r.Resource.Identifier,
		ResourceName:       r.Resource.Name,
		UserName:           r.UserName,
		Justification:      r.Justification,
		PolicyID:           optional(r.PolicyID),
		RuleID:             optional(r.RuleID),
	}
}

func toAccessRequest(d accessRequestDTO) access.Request {
	return access.Request{
		ID: d.RequestID,
		Resource: access.Resource{
			Type:       access.ResourceType(d.ResourceType),
			Identifier: d.ResourceIdentifier,
			Name:       d.ResourceName,
		},
		UserName:      d.UserName,
		Justification: d.Justification,
		PolicyID:      deref(d.PolicyID),
		RuleID:        deref(d.RuleID),
		Status:        access.Status(d.Status),
		ReviewedBy:    deref(d.ReviewedBy),
		Comments:      d.ReviewComments,
		RequestedAt:   d.RequestedAt.UTC(),
	}
}

func toApproval(d approvalResponseDTO) access.Approval {
	a := access.Approval{
		Approved: d.IsApproved,
		ID:       deref(d.ApprovalID),
	}
	if d.ExpiresAt != nil {
		t := d.ExpiresAt.UTC()
		a.ExpiresAt = &t
	}
	return a
}

func toHeartbeatResult(d heartbeatResponseDTO) outbound.HeartbeatResult {
	r := outbound.HeartbeatResult{PoliciesChanged: d.PoliciesChanged}
	if d.LastPolicyUpdate != nil {
		t := d.LastPolicyUpdate.UTC()
		r.LastPolicyUpdate = &t
	}
	return r
}

// optional maps an empty identifier to JSON null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

