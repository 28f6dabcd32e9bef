package service

import (
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

// Decision reasons without policy provenance.
const (
	ReasonNoActivePolicies = "No active policies"
	ReasonWhitelistDefault = "Whitelist mode - No matching allow rule"
	ReasonBlacklistDefault = "Blacklist mode - No matching block rule"
	ReasonEvaluationError  = "Error during evaluation - default allow"
	ReasonFileMonitored    = "Monitored file operation"
)

// Enforcer turns observations into decisions against the local policy set.
// Each call works on one snapshot of the active policies.
type Enforcer struct {
	store      policy.Reader
	matcher    *policy.Matcher
	terminator outbound.ProcessTerminator
	metrics    *Metrics
	stats      *DecisionStats
	logger     *slog.Logger
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithTerminator sets the process terminator used by BlockProcess.
func WithTerminator(t outbound.ProcessTerminator) EnforcerOption {
	return func(e *Enforcer) {
		e.terminator = t
	}
}

// WithEnforcerMetrics sets the metrics recorder.
func WithEnforcerMetrics(m *Metrics) EnforcerOption {
	return func(e *Enforcer) {
		e.metrics = m
	}
}

// WithDecisionStats sets the in-process decision counters.
func WithDecisionStats(s *DecisionStats) EnforcerOption {
	return func(e *Enforcer) {
		e.stats = s
	}
}

// NewEnforcer creates an Enforcer reading policies from store.
func NewEnforcer(store policy.Reader, matcher *policy.Matcher, logger *slog.Logger, opts ...EnforcerOption) *Enforcer {
	e := &Enforcer{
		store:   store,
		matcher: matcher,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// verdict is the first matching rule of one policy.
type verdict struct {
	policy policy.Policy
	rule   policy.Rule
}

func (v verdict) reason() string {
	return fmt.Sprintf("Policy '%s' - Rule: %s", v.policy.Name, v.rule.Description)
}

// EvaluateProcess decides whether a process may run.
//
// Policies are walked in priority order. A Block verdict in any policy
// wins immediately. Otherwise the first Allow verdict wins. If nothing
// matched, the mode of the highest-priority policy decides. A matching
// Alert rule ends its policy's pass without a verdict and is noted in the
// reason.
func (e *Enforcer) EvaluateProcess(obs policy.ProcessObservation) (d policy.Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during process evaluation",
				"process", obs.Name,
				"panic", r,
			)
			d = policy.Allow(ReasonEvaluationError)
		}
		e.recordDecision(policy.KindProcess, d)
	}()

	policies := e.store.Active()
	if len(policies) == 0 {
		e.logger.Warn("no active policies, allowing process by default", "process", obs.Name)
		return policy.Allow(ReasonNoActivePolicies)
	}

	var (
		allow *verdict
		alert *verdict
	)
	for _, p := range policies {
		for _, rule := range p.Rules {
			if rule.Type.IsNetwork() || !e.matchRule(obs, rule) {
				continue
			}
			v := verdict{policy: p, rule: rule}
			if rule.Action == policy.ActionAlert {
				if alert == nil {
					alert = &v
				}
				break
			}
			if rule.Action == policy.ActionBlock {
				e.logger.Info("process matched block rule",
					"process", obs.Name,
					"policy", p.Name,
					"rule_id", rule.ID,
				)
				return withAlert(policy.Decision{
					ShouldBlock: true,
					PolicyID:    p.ID,
					RuleID:      rule.ID,
					Reason:      v.reason(),
				}, alert)
			}
			if allow == nil {
				allow = &v
			}
			// The first matching rule ends this policy's pass.
			break
		}
	}

	if allow != nil {
		e.logger.Debug("process matched allow rule",
			"process", obs.Name,
			"policy", allow.policy.Name,
			"rule_id", allow.rule.ID,
		)
		return withAlert(policy.Decision{
			PolicyID: allow.policy.ID,
			RuleID:   allow.rule.ID,
			Reason:   allow.reason(),
		}, alert)
	}

	top := policies[0]
	if top.Mode == policy.ModeWhitelist {
		e.logger.Info("process blocked by whitelist mode", "process", obs.Name, "policy", top.Name)
		return withAlert(policy.Decision{
			ShouldBlock: true,
			PolicyID:    top.ID,
			Reason:      ReasonWhitelistDefault,
		}, alert)
	}
	return withAlert(policy.Decision{
		PolicyID: top.ID,
		Reason:   ReasonBlacklistDefault,
	}, alert)
}

// EvaluateFile decides on a file operation. File operations are audited,
// never blocked.
func (e *Enforcer) EvaluateFile(obs policy.FileObservation) policy.Decision {
	d := policy.Allow(ReasonFileMonitored)
	e.recordDecision(policy.KindFile, d)
	return d
}

// matchRule isolates a single rule: errors and panics count as no match.
func (e *Enforcer) matchRule(obs policy.ProcessObservation, rule policy.Rule) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while matching rule", "rule_id", rule.ID, "panic", r)
			e.countEvalError()
			matched = false
		}
	}()

	ok, err := e.matcher.MatchProcess(obs, rule)
	if err != nil {
		e.logger.Debug("rule evaluation failed, treating as no match",
			"rule_id", rule.ID,
			"type", rule.Type.String(),
			"error", err,
		)
		e.countEvalError()
		return false
	}
	return ok
}

// BlockProcess terminates the observed process. The decision already
// produced for it is not affected by the outcome.
func (e *Enforcer) BlockProcess(obs policy.ProcessObservation) error {
	if e.terminator == nil {
		return fmt.Errorf("no process terminator configured")
	}
	err := e.terminator.Terminate(obs.PID, obs.ExecutablePath)
	if e.metrics != nil {
		e.metrics.ProcessKills.WithLabelValues(statusLabel(err)).Inc()
	}
	if err != nil {
		e.logger.Error("failed to block process",
			"process", obs.Name,
			"pid", obs.PID,
			"error", err,
		)
		return err
	}
	e.logger.Info("blocked process", "process", obs.Name, "pid", obs.PID)
	return nil
}

func (e *Enforcer) recordDecision(kind policy.ObservationKind, d policy.Decision) {
	if e.stats != nil {
		e.stats.Record(kind, d)
	}
	if e.metrics == nil {
		return
	}
	result := "allow"
	if d.ShouldBlock {
		result = "block"
	}
	e.metrics.Decisions.WithLabelValues(string(kind), result).Inc()
}

func (e *Enforcer) countEvalError() {
	if e.stats != nil {
		e.stats.RecordEvalError()
	}
	if e.metrics != nil {
		e.metrics.EvalErrors.Inc()
	}
}

func withAlert(d policy.Decision, alert *verdict) policy.Decision {
	if alert != nil {
		d.Reason += " (Alert: " + alert.reason() + ")"
	}
	return d
}
