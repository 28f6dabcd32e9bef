package config

import (
	"strings"
	"testing"
)

// testKey is base64 of 32 zero bytes.
const testKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func minimalValidConfig() *AgentConfig {
	cfg := &AgentConfig{
		Remote: RemoteConfig{BaseURL: "https://mgmt.example.com/api"},
		Cache:  CacheConfig{EncryptionKey: testKey},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*AgentConfig)
		wantMsg string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *AgentConfig) { c.Remote.BaseURL = "" },
			wantMsg: "remote.base_url is required",
		},
		{
			name:    "plain http outside dev mode",
			mutate:  func(c *AgentConfig) { c.Remote.BaseURL = "http://mgmt.example.com" },
			wantMsg: "must use https",
		},
		{
			name:    "malformed base url",
			mutate:  func(c *AgentConfig) { c.Remote.BaseURL = "not a url" },
			wantMsg: "must be a valid URL",
		},
		{
			name:    "missing key",
			mutate:  func(c *AgentConfig) { c.Cache.EncryptionKey = "" },
			wantMsg: "EncryptionKey is required",
		},
		{
			name:    "short key",
			mutate:  func(c *AgentConfig) { c.Cache.EncryptionKey = "c2hvcnQ=" },
			wantMsg: "base64-encoded 32-byte key",
		},
		{
			name:    "bad duration",
			mutate:  func(c *AgentConfig) { c.Sync.HeartbeatInterval = "often" },
			wantMsg: "HeartbeatInterval must be a positive duration",
		},
		{
			name:    "negative duration",
			mutate:  func(c *AgentConfig) { c.Access.DedupWindow = "-5m" },
			wantMsg: "DedupWindow must be a positive duration",
		},
		{
			name:    "bad log level",
			mutate:  func(c *AgentConfig) { c.Server.LogLevel = "verbose" },
			wantMsg: "LogLevel must be one of",
		},
		{
			name:    "bad listen address",
			mutate:  func(c *AgentConfig) { c.Server.HTTPAddr = "localhost" },
			wantMsg: "HTTPAddr must be host:port",
		},
		{
			name:    "agent id not uuid",
			mutate:  func(c *AgentConfig) { c.Agent.ID = "agent-1" },
			wantMsg: "must be a UUID",
		},
		{
			name:    "intake hash not argon2id",
			mutate:  func(c *AgentConfig) { c.Server.IntakeTokenHash = "sha256:abcd" },
			wantMsg: "IntakeTokenHash must be an argon2id hash",
		},
		{
			name: "batch exceeds capacity",
			mutate: func(c *AgentConfig) {
				c.Audit.Capacity = 10
				c.Audit.BatchSize = 20
			},
			wantMsg: "audit.batch_size (20) must not exceed audit.capacity (10)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidate_DevModeAllowsPlainHTTP(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.DevMode = true
	cfg.Remote.BaseURL = "http://localhost:5000/api"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if cfg.Standalone() {
		t.Error("a configured base_url is not standalone")
	}
}

func TestValidate_ListenerDisabled(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.HTTPAddr = ListenerDisabled

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	var cfg AgentConfig
	err := cfg.Validate()
	if err == nil {
		t.Fatal("zero config should fail validation")
	}
	for _, want := range []string{"Cache.Dir is required", "Cache.EncryptionKey is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want substring %q", err.Error(), want)
		}
	}
}

func TestValidate_IntakeTokenHash(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.IntakeTokenHash = "$argon2id$v=19$m=16,t=1,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
