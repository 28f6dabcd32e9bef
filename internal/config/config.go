// Package config provides configuration types for the sentinel agent.
//
// The agent is configured from a YAML file, environment variables
// (SENTINEL_AGENT_ prefix) and command-line flags. Durations are strings
// parsed with time.ParseDuration ("30s", "5m").
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// AgentConfig is the top-level agent configuration.
type AgentConfig struct {
	// Agent identifies this machine to the management service.
	Agent IdentityConfig `yaml:"agent" mapstructure:"agent"`

	// Remote configures the management service client.
	// BaseURL may be empty only in dev mode (standalone).
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`

	// Cache configures the encrypted on-disk policy cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Sync configures the periodic loops.
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Audit configures the audit queue and delivery.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Access configures the access-request workflow.
	Access AccessConfig `yaml:"access" mapstructure:"access"`

	// Hosts configures URL blocking through the hosts file.
	Hosts HostsConfig `yaml:"hosts" mapstructure:"hosts"`

	// Enforcement configures what happens to blocked processes.
	Enforcement EnforcementConfig `yaml:"enforcement" mapstructure:"enforcement"`

	// Server configures the local status listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging and development defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// IdentityConfig holds values used at registration. The agent ID and API
// key assigned by the service are kept in the encrypted identity file,
// not here; ID is only an override for pre-provisioned machines.
type IdentityConfig struct {
	ID          string `yaml:"id" mapstructure:"id" validate:"omitempty,uuid"`
	TenantID    string `yaml:"tenant_id" mapstructure:"tenant_id"`
	MachineName string `yaml:"machine_name" mapstructure:"machine_name"`
}

// RemoteConfig configures the management service client.
type RemoteConfig struct {
	// BaseURL is the API root, e.g. "https://mgmt.example.com/api".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	// APIKey overrides the key from the identity file.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// Timeout bounds each request. Default: "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// CacheConfig configures the encrypted policy cache and identity file.
type CacheConfig struct {
	// Dir holds policies.cache and identity.dat.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`
	// EncryptionKey is the base64 encoding of a 32-byte AES key.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key" validate:"required,aes256_key"`
}

// SyncConfig configures the periodic loops.
type SyncConfig struct {
	PolicyInterval     string `yaml:"policy_interval" mapstructure:"policy_interval" validate:"omitempty,duration"`
	URLInterval        string `yaml:"url_interval" mapstructure:"url_interval" validate:"omitempty,duration"`
	HeartbeatInterval  string `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" validate:"omitempty,duration"`
	AccessPollInterval string `yaml:"access_poll_interval" mapstructure:"access_poll_interval" validate:"omitempty,duration"`
	// DriftBuffer is the clock-skew tolerance of heartbeat drift detection.
	DriftBuffer string `yaml:"drift_buffer" mapstructure:"drift_buffer" validate:"omitempty,duration"`
}

// AuditConfig configures the audit queue.
type AuditConfig struct {
	// Capacity is the queue bound; the oldest entry is dropped when full.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"gte=0"`
	// BatchSize is the maximum number of entries per submission.
	BatchSize       int    `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=0"`
	FlushInterval   string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`

	// JournalDir enables the local audit journal. Empty disables it.
	JournalDir           string `yaml:"journal_dir" mapstructure:"journal_dir"`
	JournalRetentionDays int    `yaml:"journal_retention_days" mapstructure:"journal_retention_days" validate:"gte=0"`
	JournalMaxSizeMB     int    `yaml:"journal_max_size_mb" mapstructure:"journal_max_size_mb" validate:"gte=0"`
}

// AccessConfig configures the access-request workflow.
type AccessConfig struct {
	DedupWindow          string `yaml:"dedup_window" mapstructure:"dedup_window" validate:"omitempty,duration"`
	JustificationTimeout string `yaml:"justification_timeout" mapstructure:"justification_timeout" validate:"omitempty,duration"`
}

// HostsConfig configures URL blocking through the hosts file.
type HostsConfig struct {
	// Enabled applies the URL blocklist. Default: true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Path overrides the platform hosts file location.
	Path string `yaml:"path" mapstructure:"path"`
	// FlushDNS flushes the OS resolver cache after each rewrite. Default: true.
	FlushDNS bool `yaml:"flush_dns" mapstructure:"flush_dns"`
}

// EnforcementConfig configures process enforcement.
type EnforcementConfig struct {
	// BlockProcesses terminates processes with a Block decision. When
	// false the agent audits only. Default: true.
	BlockProcesses bool `yaml:"block_processes" mapstructure:"block_processes"`
}

// ServerConfig configures the status listener and logging.
type ServerConfig struct {
	// HTTPAddr is the status listener address. Defaults to "127.0.0.1:9464".
	// Set to "off" to disable the listener.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,listen_addr"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// IntakeTokenHash is the argon2id hash (see `sentinel-agent hash-token`)
	// of the token that observation and prompt-answer requests must carry.
	// When empty, a random token is generated at start and written to
	// IntakeTokenFile.
	IntakeTokenHash string `yaml:"intake_token_hash" mapstructure:"intake_token_hash" validate:"omitempty,argon2id_hash"`

	// IntakeTokenFile receives the generated intake token, readable only by
	// the agent's user. Defaults to "intake.token" in the cache directory.
	IntakeTokenFile string `yaml:"intake_token_file" mapstructure:"intake_token_file"`
}

// TelemetryConfig configures OpenTelemetry export. Prometheus metrics on
// the status listener are always on; these are for local debugging.
type TelemetryConfig struct {
	// TraceStdout exports spans as JSON to stdout.
	TraceStdout bool `yaml:"trace_stdout" mapstructure:"trace_stdout"`
	// MetricsStdout periodically exports OpenTelemetry metrics to stdout.
	MetricsStdout bool `yaml:"metrics_stdout" mapstructure:"metrics_stdout"`
}

// ListenerDisabled is the HTTPAddr value that turns the status listener off.
const ListenerDisabled = "off"

// IntakeTokenPath returns where a generated intake token is written.
func (c *AgentConfig) IntakeTokenPath() string {
	if c.Server.IntakeTokenFile != "" {
		return c.Server.IntakeTokenFile
	}
	return filepath.Join(c.Cache.Dir, "intake.token")
}

// Standalone reports whether the agent runs without a management service.
func (c *AgentConfig) Standalone() bool {
	return c.DevMode && c.Remote.BaseURL == ""
}

// DefaultCacheDir returns the platform cache directory.
func DefaultCacheDir() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "sentinel-agent", "cache")
	}
	return "/var/lib/sentinel-agent"
}

// SetDefaults applies default values for optional fields. Boolean
// defaults are registered with viper by InitViper.
func (c *AgentConfig) SetDefaults() {
	if c.Remote.Timeout == "" {
		c.Remote.Timeout = "30s"
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir()
	}

	if c.Sync.PolicyInterval == "" {
		c.Sync.PolicyInterval = "5m"
	}
	if c.Sync.URLInterval == "" {
		c.Sync.URLInterval = "10m"
	}
	if c.Sync.HeartbeatInterval == "" {
		c.Sync.HeartbeatInterval = "1m"
	}
	if c.Sync.AccessPollInterval == "" {
		c.Sync.AccessPollInterval = "30s"
	}
	if c.Sync.DriftBuffer == "" {
		c.Sync.DriftBuffer = "2m"
	}

	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = 10000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "30s"
	}
	if c.Audit.ShutdownTimeout == "" {
		c.Audit.ShutdownTimeout = "10s"
	}
	if c.Audit.JournalDir != "" {
		if c.Audit.JournalRetentionDays == 0 {
			c.Audit.JournalRetentionDays = 7
		}
		if c.Audit.JournalMaxSizeMB == 0 {
			c.Audit.JournalMaxSizeMB = 100
		}
	}

	if c.Access.DedupWindow == "" {
		c.Access.DedupWindow = "5m"
	}
	if c.Access.JustificationTimeout == "" {
		c.Access.JustificationTimeout = "2m"
	}

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:9464"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// devKeySeed derives the development cache key. It is not a secret.
const devKeySeed = "sentinel-agent development cache key"

// SetDevDefaults applies development defaults. Call after SetDefaults
// and any flag overrides, before Validate. Does nothing unless DevMode.
func (c *AgentConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// A fixed, well-known key so a dev cache survives restarts.
	if c.Cache.EncryptionKey == "" {
		sum := sha256.Sum256([]byte(devKeySeed))
		c.Cache.EncryptionKey = base64.StdEncoding.EncodeToString(sum[:])
	}

	// Dev machines rarely run as root; keep the cache in the user's space.
	if c.Cache.Dir == DefaultCacheDir() {
		if dir, err := os.UserCacheDir(); err == nil {
			c.Cache.Dir = filepath.Join(dir, "sentinel-agent")
		}
	}
}

// UsesDevKey reports whether the cache key is the development default.
func (c *AgentConfig) UsesDevKey() bool {
	sum := sha256.Sum256([]byte(devKeySeed))
	return c.Cache.EncryptionKey == base64.StdEncoding.EncodeToString(sum[:])
}

// durationOr parses s, returning fallback when s is empty or invalid.
// Validate rejects invalid values before this is reached.
func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// TimeoutDuration returns the request timeout.
func (c RemoteConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, 30*time.Second)
}

// PolicyIntervalDuration returns the policy sync interval.
func (c SyncConfig) PolicyIntervalDuration() time.Duration {
	return durationOr(c.PolicyInterval, 5*time.Minute)
}

// URLIntervalDuration returns the URL sync interval.
func (c SyncConfig) URLIntervalDuration() time.Duration {
	return durationOr(c.URLInterval, 10*time.Minute)
}

// HeartbeatIntervalDuration returns the heartbeat interval.
func (c SyncConfig) HeartbeatIntervalDuration() time.Duration {
	return durationOr(c.HeartbeatInterval, time.Minute)
}

// AccessPollIntervalDuration returns the access-request poll interval.
func (c SyncConfig) AccessPollIntervalDuration() time.Duration {
	return durationOr(c.AccessPollInterval, 30*time.Second)
}

// DriftBufferDuration returns the drift detection tolerance.
func (c SyncConfig) DriftBufferDuration() time.Duration {
	return durationOr(c.DriftBuffer, 2*time.Minute)
}

// FlushIntervalDuration returns the audit flush interval.
func (c AuditConfig) FlushIntervalDuration() time.Duration {
	return durationOr(c.FlushInterval, 30*time.Second)
}

// ShutdownTimeoutDuration returns the bound of the final audit flush.
func (c AuditConfig) ShutdownTimeoutDuration() time.Duration {
	return durationOr(c.ShutdownTimeout, 10*time.Second)
}

// DedupWindowDuration returns the access-request dedup window.
func (c AccessConfig) DedupWindowDuration() time.Duration {
	return durationOr(c.DedupWindow, 5*time.Minute)
}

// JustificationTimeoutDuration returns how long a prompt may stay unanswered.
func (c AccessConfig) JustificationTimeoutDuration() time.Duration {
	return durationOr(c.JustificationTimeout, 2*time.Minute)
}
