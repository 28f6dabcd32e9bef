// Package cmd provides the CLI commands for the sentinel agent.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-agent/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel-agent",
	Short: "Sentinel Agent - endpoint protection agent",
	Long: `Sentinel Agent enforces application control policies on this machine.

It evaluates process launches and file operations against policies
assigned by the management service, blocks URLs through the hosts file,
reports audit events and relays access requests for blocked resources.
Policies are cached encrypted on disk so enforcement continues offline.

Quick start:
  1. Register:  sentinel-agent register --tenant <id> --tenant-key <key>
  2. Run:       sentinel-agent start

Configuration:
  Config is loaded from sentinel-agent.yaml in the current directory,
  $HOME/.sentinel-agent/, or /etc/sentinel-agent/.

  Environment variables can override config values with the SENTINEL_AGENT_ prefix.
  Example: SENTINEL_AGENT_REMOTE_BASE_URL=https://mgmt.example.com/api

Commands:
  start       Start the agent
  stop        Stop the running agent
  register    Enroll this machine with the management service
  evaluate    Evaluate a process against policies without enforcing
  policies    List cached policies
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinel-agent.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, standalone without remote.base_url)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

var devMode bool

// loadConfig loads, applies the --dev override and validates.
func loadConfig() (*config.AgentConfig, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
