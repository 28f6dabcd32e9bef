// Package audit contains domain types for agent audit logging.
package audit

import (
	"fmt"
	"time"
)

// EventType classifies an audit entry. Values are shared with the
// management service.
type EventType int

const (
	EventProcessCreation     EventType = 0
	EventInstallationBlocked EventType = 1
	EventInstallationAllowed EventType = 2
	EventProtectedFileWrite  EventType = 3
	EventPolicyUpdated       EventType = 4
	EventAgentStarted        EventType = 5
	EventAgentStopped        EventType = 6
	EventError               EventType = 7
)

var eventTypeNames = map[EventType]string{
	EventProcessCreation:     "ProcessCreation",
	EventInstallationBlocked: "InstallationBlocked",
	EventInstallationAllowed: "InstallationAllowed",
	EventProtectedFileWrite:  "ProtectedFileWrite",
	EventPolicyUpdated:       "PolicyUpdated",
	EventAgentStarted:        "AgentStarted",
	EventAgentStopped:        "AgentStopped",
	EventError:               "Error",
}

// String returns the display name of the event type.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Entry is one audit record. The queue owns an Entry until it is
// accepted by the management service.
type Entry struct {
	// ID is unique per entry; the management service uses it to
	// discard duplicates from retried batches.
	ID string `json:"id"`
	// AgentID identifies the reporting agent.
	AgentID string `json:"agentId,omitempty"`
	// Type classifies the entry.
	Type EventType `json:"eventType"`
	// Timestamp is when the event happened (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Blocked is true when the observed action was stopped.
	Blocked bool `json:"blocked"`

	// Subject fields. Which ones are set depends on Type.
	ProcessName string `json:"processName,omitempty"`
	ProcessPath string `json:"processPath,omitempty"`
	FileHash    string `json:"fileHash,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	UserName    string `json:"userName,omitempty"`

	// PolicyID and RuleID identify the owning policy and rule, if any.
	PolicyID string `json:"policyId,omitempty"`
	RuleID   string `json:"ruleId,omitempty"`

	// Details is free text.
	Details string `json:"details,omitempty"`
}
