// Package policy contains domain types for endpoint policy evaluation.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the default posture of a policy when none of its rules match.
type Mode int

const (
	// ModeWhitelist denies anything not explicitly allowed.
	ModeWhitelist Mode = iota
	// ModeBlacklist allows anything not explicitly blocked.
	ModeBlacklist
)

// String returns the display name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeWhitelist:
		return "Whitelist"
	case ModeBlacklist:
		return "Blacklist"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whitelist":
		return ModeWhitelist, nil
	case "blacklist":
		return ModeBlacklist, nil
	}
	return 0, fmt.Errorf("unknown policy mode %q", s)
}

// RuleType selects which matcher evaluates a rule's criteria.
type RuleType int

const (
	// RuleFileHash matches the SHA-256 digest of the executable.
	RuleFileHash RuleType = iota
	// RuleCertificate matches the signing certificate thumbprint.
	RuleCertificate
	// RulePath matches the executable path with * and ? wildcards.
	RulePath
	// RulePublisher matches a substring of the signer's subject name.
	RulePublisher
	// RuleFileName matches the process name with * and ? wildcards.
	RuleFileName
	// RuleURL blocks a URL through the hosts file. Applied at sync time.
	RuleURL
	// RuleDomain blocks a domain through the hosts file. Applied at sync time.
	RuleDomain
)

var ruleTypeNames = map[RuleType]string{
	RuleFileHash:    "FileHash",
	RuleCertificate: "Certificate",
	RulePath:        "Path",
	RulePublisher:   "Publisher",
	RuleFileName:    "FileName",
	RuleURL:         "Url",
	RuleDomain:      "Domain",
}

// String returns the display name of the rule type.
func (t RuleType) String() string {
	if name, ok := ruleTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RuleType(%d)", int(t))
}

// ParseRuleType parses a rule type name case-insensitively.
func ParseRuleType(s string) (RuleType, error) {
	for t, name := range ruleTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown rule type %q", s)
}

// IsNetwork reports whether the rule type is enforced by URL sync rather than the Enforcer.
func (t RuleType) IsNetwork() bool {
	return t == RuleURL || t == RuleDomain
}

// Action is the verdict a matching rule contributes.
type Action int

const (
	// ActionAllow permits the observed action.
	ActionAllow Action = iota
	// ActionBlock denies the observed action.
	ActionBlock
	// ActionAlert records the match without affecting the verdict.
	ActionAlert
)

// String returns the display name of the action.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "Allow"
	case ActionBlock:
		return "Block"
	case ActionAlert:
		return "Alert"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses an action name case-insensitively.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return ActionAllow, nil
	case "block":
		return ActionBlock, nil
	case "alert":
		return ActionAlert, nil
	}
	return 0, fmt.Errorf("unknown rule action %q", s)
}

// Rule is a single match criterion plus the action taken when it matches.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string
	// Type selects the matcher.
	Type RuleType
	// Criteria is the value the matcher compares against.
	// Path and FileName criteria may contain * and ? wildcards.
	Criteria string
	// Action is the verdict when the rule matches.
	Action Action
	// Description is free text shown in decision reasons.
	Description string
}

// Policy is a named, prioritized collection of rules with a default mode.
type Policy struct {
	// ID is the unique identifier for this policy.
	ID string
	// Name is the human-readable name for this policy.
	Name string
	// Description provides additional context about the policy.
	Description string
	// Mode is applied when no rule in any active policy matches.
	Mode Mode
	// Active controls whether the policy takes part in evaluation.
	Active bool
	// Priority orders policies; higher is evaluated first.
	Priority int
	// Rules are evaluated in stored order.
	Rules []Rule
	// UpdatedAt is when the policy was last changed on the management service (UTC).
	UpdatedAt time.Time
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	cp := p
	if p.Rules != nil {
		cp.Rules = make([]Rule, len(p.Rules))
		copy(cp.Rules, p.Rules)
	}
	return cp
}

// Decision is the Enforcer's verdict plus provenance.
type Decision struct {
	// ShouldBlock is true when the observed action must be stopped.
	ShouldBlock bool
	// PolicyID is the owning policy, empty for a no-policy decision.
	PolicyID string
	// RuleID is the owning rule, empty for a mode-default decision.
	RuleID string
	// Reason is a human-readable explanation.
	Reason string
}

// Allow returns an allow decision with the given reason and no provenance.
func Allow(reason string) Decision {
	return Decision{Reason: reason}
}
