package policy

import (
	"context"
	"sort"
)

// Reader gives read access to the current policy set.
// Implementations return defensive copies.
type Reader interface {
	// Active returns active policies ordered by descending priority.
	Active() []Policy
	// All returns every cached policy regardless of state.
	All() []Policy
}

// Store is the local source of truth for decisions.
type Store interface {
	Reader
	// ReplaceAll atomically swaps the policy set and persists it.
	ReplaceAll(ctx context.Context, policies []Policy) error
}

// SortByPriority orders policies by descending priority. Ties are broken
// by ID so evaluation order does not depend on wire order.
func SortByPriority(policies []Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})
}

// ActiveSorted filters active policies and sorts them by priority.
// The input slice is not modified.
func ActiveSorted(policies []Policy) []Policy {
	active := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.Active {
			active = append(active, p.Clone())
		}
	}
	SortByPriority(active)
	return active
}

// CloneAll deep-copies a policy slice.
func CloneAll(policies []Policy) []Policy {
	if policies == nil {
		return nil
	}
	out := make([]Policy, len(policies))
	for i, p := range policies {
		out[i] = p.Clone()
	}
	return out
}
