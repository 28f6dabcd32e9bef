package service

import (
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// DecisionStats counts enforcement outcomes since start using lock-free
// counters. It backs the health endpoint; Prometheus carries the same
// data for scraping.
type DecisionStats struct {
	allowed    atomic.Int64
	blocked    atomic.Int64
	evalErrors atomic.Int64

	mu     sync.Mutex
	byKind map[policy.ObservationKind]int64
}

// NewDecisionStats creates zeroed counters.
func NewDecisionStats() *DecisionStats {
	return &DecisionStats{byKind: make(map[policy.ObservationKind]int64)}
}

// Record counts one decision.
func (s *DecisionStats) Record(kind policy.ObservationKind, d policy.Decision) {
	if d.ShouldBlock {
		s.blocked.Add(1)
	} else {
		s.allowed.Add(1)
	}
	s.mu.Lock()
	s.byKind[kind]++
	s.mu.Unlock()
}

// RecordEvalError counts a rule that failed to evaluate.
func (s *DecisionStats) RecordEvalError() {
	s.evalErrors.Add(1)
}

// DecisionCounts is a snapshot of DecisionStats.
type DecisionCounts struct {
	Allowed    int64            `json:"allowed"`
	Blocked    int64            `json:"blocked"`
	EvalErrors int64            `json:"eval_errors"`
	ByKind     map[string]int64 `json:"by_kind"`
}

// Snapshot returns the current counts. Each counter is read atomically,
// the set as a whole is not.
func (s *DecisionStats) Snapshot() DecisionCounts {
	s.mu.Lock()
	byKind := make(map[string]int64, len(s.byKind))
	for k, v := range s.byKind {
		byKind[string(k)] = v
	}
	s.mu.Unlock()

	return DecisionCounts{
		Allowed:    s.allowed.Load(),
		Blocked:    s.blocked.Load(),
		EvalErrors: s.evalErrors.Load(),
		ByKind:     byKind,
	}
}

// Totals returns allowed, blocked and evaluation error counts.
func (s *DecisionStats) Totals() (allowed, blocked, evalErrors int64) {
	return s.allowed.Load(), s.blocked.Load(), s.evalErrors.Load()
}
