package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// policyFile is the YAML form of a policy set, used by "evaluate
// --policies" and "policies --output yaml".
type policyFile struct {
	Policies []policyYAML `yaml:"policies"`
}

type policyYAML struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Mode        string     `yaml:"mode"`
	Active      *bool      `yaml:"active,omitempty"`
	Priority    int        `yaml:"priority"`
	Rules       []ruleYAML `yaml:"rules"`
}

type ruleYAML struct {
	ID          string `yaml:"id"`
	Type        string `yaml:"type"`
	Criteria    string `yaml:"criteria"`
	Action      string `yaml:"action"`
	Description string `yaml:"description,omitempty"`
}

// loadPolicyFile reads a YAML policy set. Policies are active unless
// active: false is given.
func loadPolicyFile(path string) ([]policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return pf.toPolicies()
}

func (pf policyFile) toPolicies() ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(pf.Policies))
	for i, py := range pf.Policies {
		mode, err := policy.ParseMode(py.Mode)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		p := policy.Policy{
			ID:          py.ID,
			Name:        py.Name,
			Description: py.Description,
			Mode:        mode,
			Active:      py.Active == nil || *py.Active,
			Priority:    py.Priority,
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("policy-%d", i+1)
		}
		for j, ry := range py.Rules {
			rt, err := policy.ParseRuleType(ry.Type)
			if err != nil {
				return nil, fmt.Errorf("policies[%d].rules[%d]: %w", i, j, err)
			}
			action, err := policy.ParseAction(ry.Action)
			if err != nil {
				return nil, fmt.Errorf("policies[%d].rules[%d]: %w", i, j, err)
			}
			r := policy.Rule{
				ID:          ry.ID,
				Type:        rt,
				Criteria:    ry.Criteria,
				Action:      action,
				Description: ry.Description,
			}
			if r.ID == "" {
				r.ID = fmt.Sprintf("%s-rule-%d", p.ID, j+1)
			}
			p.Rules = append(p.Rules, r)
		}
		out = append(out, p)
	}
	return out, nil
}

func toPolicyFile(policies []policy.Policy) policyFile {
	pf := policyFile{Policies: make([]policyYAML, 0, len(policies))}
	for _, p := range policies {
		active := p.Active
		py := policyYAML{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Mode:        p.Mode.String(),
			Active:      &active,
			Priority:    p.Priority,
			Rules:       make([]ruleYAML, 0, len(p.Rules)),
		}
		for _, r := range p.Rules {
			py.Rules = append(py.Rules, ruleYAML{
				ID:          r.ID,
				Type:        r.Type.String(),
				Criteria:    r.Criteria,
				Action:      r.Action.String(),
				Description: r.Description,
			})
		}
		pf.Policies = append(pf.Policies, py)
	}
	return pf
}
