package remote

import "time"

// Wire types exchanged with the management service. Field names follow
// the service's camelCase JSON; enums travel as integers.

type policyDTO struct {
	PolicyID         string    `json:"policyId"`
	TenantID         string    `json:"tenantId,omitempty"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Mode             int       `json:"mode"`
	IsActive         bool      `json:"isActive"`
	Priority         int       `json:"priority"`
	Rules            []ruleDTO `json:"rules"`
	AssignedAgentIDs []string  `json:"assignedAgentIds,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type ruleDTO struct {
	RuleID      string `json:"ruleId"`
	RuleType    int    `json:"ruleType"`
	Criteria    string `json:"criteria"`
	Action      int    `json:"action"`
	Description string `json:"description"`
}

type auditLogDTO struct {
	LogID       string    `json:"logId"`
	AgentID     string    `json:"agentId"`
	EventType   int       `json:"eventType"`
	Timestamp   time.Time `json:"timestamp"`
	Blocked     bool      `json:"blocked"`
	ProcessName string    `json:"processName"`
	ProcessPath string    `json:"processPath"`
	FileHash    string    `json:"fileHash"`
	Publisher   string    `json:"publisher"`
	UserName    string    `json:"userName"`
	Details     string    `json:"details"`
	PolicyID    *string   `json:"policyId,omitempty"`
	RuleID      *string   `json:"ruleId,omitempty"`
}

type auditSubmitResponseDTO struct {
	SubmittedCount int `json:"submittedCount"`
}

type heartbeatDTO struct {
	AgentID              string    `json:"agentId"`
	Status               int       `json:"status"`
	AgentVersion         string    `json:"agentVersion"`
	Timestamp            time.Time `json:"timestamp"`
	BlockedEventsLast24h int       `json:"blockedEventsLast24h"`
	LastError            string    `json:"lastError"`
}

type heartbeatResponseDTO struct {
	PoliciesChanged  bool       `json:"policiesChanged"`
	LastPolicyUpdate *time.Time `json:"lastPolicyUpdate,omitempty"`
}

type registrationDTO struct {
	MachineName     string `json:"machineName"`
	OperatingSystem string `json:"operatingSystem"`
	AgentVersion    string `json:"agentVersion"`
	TenantID        string `json:"tenantId"`
	TenantAPIKey    string `json:"tenantApiKey"`
}

type registrationResponseDTO struct {
	AgentID string `json:"agentId"`
	APIKey  string `json:"apiKey"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type createAccessRequestDTO struct {
	AgentID            string  `json:"agentId"`
	ResourceType       string  `json:"resourceType"`
	ResourceIdentifier string  `json:"resourceIdentifier"`
	ResourceName       string  `json:"resourceName"`
	UserName           string  `json:"userName"`
	Justification      string  `json:"justification"`
	PolicyID           *string `json:"policyId,omitempty"`
	RuleID             *string `json:"ruleId,omitempty"`
}

type approvalCheckDTO struct {
	AgentID            string `json:"agentId"`
	ResourceType       string `json:"resourceType"`
	ResourceIdentifier string `json:"resourceIdentifier"`
}

type approvalResponseDTO struct {
	IsApproved bool       `json:"isApproved"`
	ApprovalID *string    `json:"approvalId,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

type accessRequestDTO struct {
	RequestID          string     `json:"requestId"`
	AgentID            string     `json:"agentId"`
	ResourceType       string     `json:"resourceType"`
	ResourceIdentifier string     `json:"resourceIdentifier"`
	ResourceName       string     `json:"resourceName"`
	UserName           string     `json:"userName"`
	Justification      string     `json:"justification"`
	Status             int        `json:"status"`
	RequestedAt        time.Time  `json:"requestedAt"`
	ReviewedBy         *string    `json:"reviewedBy,omitempty"`
	ReviewedAt         *time.Time `json:"reviewedAt,omitempty"`
	ReviewComments     string     `json:"reviewComments"`
	PolicyID           *string    `json:"policyId,omitempty"`
	RuleID             *string    `json:"ruleId,omitempty"`
}
