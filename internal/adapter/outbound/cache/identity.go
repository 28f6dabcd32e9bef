package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// IdentityFileName is the identity file name inside the cache directory.
const IdentityFileName = "agent.identity"

// ErrNotRegistered is returned when no identity has been stored yet.
var ErrNotRegistered = errors.New("agent is not registered")

// Identity is the enrollment assigned by the management service.
type Identity struct {
	AgentID      string    `json:"agent_id"`
	APIKey       string    `json:"api_key"`
	TenantID     string    `json:"tenant_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// IdentityStore persists the agent identity encrypted with the cache key.
type IdentityStore struct {
	file *sealedFile
}

// NewIdentityStore creates an IdentityStore in dir.
func NewIdentityStore(dir, keyB64 string, logger *slog.Logger) (*IdentityStore, error) {
	sealer, err := NewSealer(keyB64)
	if err != nil {
		return nil, err
	}
	return &IdentityStore{
		file: newSealedFile(filepath.Join(dir, IdentityFileName), sealer, logger),
	}, nil
}

// Load returns the stored identity or ErrNotRegistered.
func (s *IdentityStore) Load() (Identity, error) {
	data, err := s.file.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Identity{}, ErrNotRegistered
		}
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	if id.AgentID == "" {
		return Identity{}, ErrNotRegistered
	}
	return id, nil
}

// Save stores the identity, replacing any previous one.
func (s *IdentityStore) Save(id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return s.file.write(data)
}

// Path returns the identity file path.
func (s *IdentityStore) Path() string {
	return s.file.path
}
