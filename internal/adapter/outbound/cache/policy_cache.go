// Package cache provides the encrypted on-disk policy cache and agent
// identity store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// PolicyFileName is the cache file name inside the cache directory.
const PolicyFileName = "policies.cache"

// PolicyCache is the local source of truth for decisions. The in-memory
// set is replaced copy-on-write: a stored slice is never mutated, so
// readers copy it outside the lock.
type PolicyCache struct {
	file   *sealedFile
	logger *slog.Logger

	// writeMu orders swap+persist so the file always matches the last swap.
	writeMu sync.Mutex

	mu       sync.RWMutex
	policies []policy.Policy // all, wire order
	active   []policy.Policy // active, priority order
}

// NewPolicyCache opens the cache in dir. A missing, unreadable or
// undecryptable file is logged and the cache starts empty; only an
// invalid key is an error.
func NewPolicyCache(dir, keyB64 string, logger *slog.Logger) (*PolicyCache, error) {
	sealer, err := NewSealer(keyB64)
	if err != nil {
		return nil, err
	}
	c := &PolicyCache{
		file:   newSealedFile(filepath.Join(dir, PolicyFileName), sealer, logger),
		logger: logger,
	}
	c.load()
	return c, nil
}

func (c *PolicyCache) load() {
	data, err := c.file.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Info("policy cache not found, starting empty", "path", c.file.path)
		} else {
			c.logger.Error("failed to load policy cache, starting empty", "path", c.file.path, "error", err)
		}
		return
	}

	var pf policyFile
	if err := json.Unmarshal(data, &pf); err != nil {
		c.logger.Error("failed to parse policy cache, starting empty", "path", c.file.path, "error", err)
		return
	}

	c.swap(fromEntries(pf.Policies))
	c.logger.Info("policy cache loaded",
		"path", c.file.path,
		"policies", len(pf.Policies),
		"saved_at", pf.SavedAt,
	)
}

// swap publishes a new policy set. The caller must not retain policies.
func (c *PolicyCache) swap(policies []policy.Policy) {
	active := policy.ActiveSorted(policies)
	c.mu.Lock()
	c.policies = policies
	c.active = active
	c.mu.Unlock()
}

// Active returns active policies ordered by descending priority.
func (c *PolicyCache) Active() []policy.Policy {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()
	return policy.CloneAll(active)
}

// All returns every cached policy regardless of state.
func (c *PolicyCache) All() []policy.Policy {
	c.mu.RLock()
	all := c.policies
	c.mu.RUnlock()
	if all == nil {
		return []policy.Policy{}
	}
	return policy.CloneAll(all)
}

// Len returns the number of cached policies.
func (c *PolicyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.policies)
}

// ReplaceAll swaps the policy set and persists it. A context canceled
// before the call leaves the cache untouched. A persistence failure is
// returned after the in-memory swap: enforcement keeps the newer set and
// the file is rewritten on the next replacement.
func (c *PolicyCache) ReplaceAll(ctx context.Context, policies []policy.Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := policy.CloneAll(policies)
	if next == nil {
		next = []policy.Policy{}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.swap(next)
	return c.persist(next)
}

func (c *PolicyCache) persist(policies []policy.Policy) error {
	data, err := json.Marshal(policyFile{
		Version:  cacheVersion,
		SavedAt:  time.Now().UTC(),
		Policies: toEntries(policies),
	})
	if err != nil {
		return fmt.Errorf("marshal policy cache: %w", err)
	}
	if err := c.file.write(data); err != nil {
		return fmt.Errorf("persist policy cache: %w", err)
	}
	c.logger.Debug("policy cache saved", "path", c.file.path, "policies", len(policies))
	return nil
}

var _ policy.Store = (*PolicyCache)(nil)
