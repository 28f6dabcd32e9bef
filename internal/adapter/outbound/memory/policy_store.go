package memory

import (
	"context"
	"sync"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// PolicyStore implements policy.Store without persistence.
// Thread-safe for concurrent access. Used for offline evaluation of
// policy files and in tests.
type PolicyStore struct {
	policies []policy.Policy
	mu       sync.RWMutex
}

// NewPolicyStore creates an in-memory policy store seeded with policies.
func NewPolicyStore(policies ...policy.Policy) *PolicyStore {
	return &PolicyStore{
		policies: policy.CloneAll(policies),
	}
}

// Active returns active policies ordered by descending priority.
func (s *PolicyStore) Active() []policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return policy.ActiveSorted(s.policies)
}

// All returns a copy of every policy.
func (s *PolicyStore) All() []policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := policy.CloneAll(s.policies)
	if out == nil {
		out = []policy.Policy{}
	}
	return out
}

// ReplaceAll swaps the policy set.
func (s *PolicyStore) ReplaceAll(ctx context.Context, policies []policy.Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := policy.CloneAll(policies)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = next
	return nil
}

var _ policy.Store = (*PolicyStore)(nil)
