package cache

import (
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// cacheVersion is bumped when the decrypted layout changes.
const cacheVersion = 1

// policyFile is the decrypted layout of the policy cache.
type policyFile struct {
	Version  int           `json:"version"`
	SavedAt  time.Time     `json:"saved_at"`
	Policies []policyEntry `json:"policies"`
}

// policyEntry is the persisted form of a policy.
type policyEntry struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Mode        int         `json:"mode"`
	Active      bool        `json:"active"`
	Priority    int         `json:"priority"`
	Rules       []ruleEntry `json:"rules"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ruleEntry is the persisted form of a rule.
type ruleEntry struct {
	ID          string `json:"id"`
	Type        int    `json:"type"`
	Criteria    string `json:"criteria"`
	Action      int    `json:"action"`
	Description string `json:"description,omitempty"`
}

func toEntries(policies []policy.Policy) []policyEntry {
	entries := make([]policyEntry, 0, len(policies))
	for _, p := range policies {
		e := policyEntry{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Mode:        int(p.Mode),
			Active:      p.Active,
			Priority:    p.Priority,
			Rules:       make([]ruleEntry, 0, len(p.Rules)),
			UpdatedAt:   p.UpdatedAt,
		}
		for _, r := range p.Rules {
			e.Rules = append(e.Rules, ruleEntry{
				ID:          r.ID,
				Type:        int(r.Type),
				Criteria:    r.Criteria,
				Action:      int(r.Action),
				Description: r.Description,
			})
		}
		entries = append(entries, e)
	}
	return entries
}

func fromEntries(entries []policyEntry) []policy.Policy {
	policies := make([]policy.Policy, 0, len(entries))
	for _, e := range entries {
		p := policy.Policy{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Mode:        policy.Mode(e.Mode),
			Active:      e.Active,
			Priority:    e.Priority,
			UpdatedAt:   e.UpdatedAt,
		}
		if len(e.Rules) > 0 {
			p.Rules = make([]policy.Rule, 0, len(e.Rules))
		}
		for _, r := range e.Rules {
			p.Rules = append(p.Rules, policy.Rule{
				ID:          r.ID,
				Type:        policy.RuleType(r.Type),
				Criteria:    r.Criteria,
				Action:      policy.Action(r.Action),
				Description: r.Description,
			})
		}
		policies = append(policies, p)
	}
	return policies
}
