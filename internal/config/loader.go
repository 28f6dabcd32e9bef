package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// configBaseName is the config file name without extension.
const configBaseName = "sentinel-agent"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for sentinel-agent.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName(configBaseName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SENTINEL_AGENT_REMOTE_BASE_URL
	viper.SetEnvPrefix("SENTINEL_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Unmarshal cannot tell an absent bool from false.
	viper.SetDefault("hosts.enabled", true)
	viper.SetDefault("hosts.flush_dns", true)
	viper.SetDefault("enforcement.block_processes", true)

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a sentinel-agent config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sentinel-agent"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "sentinel-agent"))
		}
	} else {
		paths = append(paths, "/etc/sentinel-agent")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for sentinel-agent.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configBaseName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every scalar key that can be overridden from the environment.
var envKeys = []string{
	"agent.id",
	"agent.tenant_id",
	"agent.machine_name",

	"remote.base_url",
	"remote.api_key",
	"remote.timeout",

	"cache.dir",
	"cache.encryption_key",

	"sync.policy_interval",
	"sync.url_interval",
	"sync.heartbeat_interval",
	"sync.access_poll_interval",
	"sync.drift_buffer",

	"audit.capacity",
	"audit.batch_size",
	"audit.flush_interval",
	"audit.shutdown_timeout",
	"audit.journal_dir",
	"audit.journal_retention_days",
	"audit.journal_max_size_mb",

	"access.dedup_window",
	"access.justification_timeout",

	"hosts.enabled",
	"hosts.path",
	"hosts.flush_dns",

	"enforcement.block_processes",

	"server.http_addr",
	"server.log_level",
	"server.intake_token_hash",
	"server.intake_token_file",

	"telemetry.trace_stdout",
	"telemetry.metrics_stdout",

	"dev_mode",
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: SENTINEL_AGENT_CACHE_ENCRYPTION_KEY overrides cache.encryption_key
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, applies dev defaults and validates.
func LoadConfig() (*AgentConfig, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*AgentConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Pure environment configuration.
	}

	var cfg AgentConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
